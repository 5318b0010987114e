package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

// Instruction is the fixed extraction directive sent alongside the
// conversation transcript.
const Instruction = `You are a contact extraction system. Read the conversation and extract the contact details the user shared about themselves.

RULES:
1. Extract ONLY explicitly stated information - never infer or guess
2. Return ONLY a single JSON object, no additional text
3. Omit or set to null any field the user did not provide

JSON SCHEMA:
{
  "name": "full name of the contact",
  "email": "email address",
  "phone": "phone number",
  "company": "company or organization",
  "notes": "any other relevant detail the user shared"
}`

var (
	// ErrMalformedOutput means the raw model output could not be parsed as
	// the expected JSON object at all.
	ErrMalformedOutput = errors.New("extract: malformed model output")

	// ErrNoContactSignal means parsing succeeded but no valid
	// identity-bearing field (email or phone) survived validation.
	ErrNoContactSignal = errors.New("extract: no contact signal in output")
)

// requestedFields is the number of profile fields the instruction asks for;
// the confidence score is the fraction of them populated.
const requestedFields = 4

const minPhoneDigits = 7

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

type candidatePayload struct {
	Name    string
	Email   string
	Phone   string
	Company string
	Notes   string
}

// Extract parses raw model output into a ContactCandidate. Fields failing
// shape validation are dropped individually; the call fails only when the
// output is not the expected structure (ErrMalformedOutput) or when no
// identity-bearing field survives (ErrNoContactSignal). Deterministic for a
// given raw input.
func Extract(raw string) (models.ContactCandidate, error) {
	payload, err := parsePayload(raw)
	if err != nil {
		return models.ContactCandidate{}, err
	}

	candidate := models.ContactCandidate{
		Name:    strings.TrimSpace(payload.Name),
		Company: strings.TrimSpace(payload.Company),
		Notes:   strings.TrimSpace(payload.Notes),
	}

	if email := strings.TrimSpace(payload.Email); ValidEmail(email) {
		candidate.Email = email
	}
	if phone := strings.TrimSpace(payload.Phone); ValidPhone(phone) {
		candidate.Phone = phone
	}

	if !candidate.HasIdentity() {
		return models.ContactCandidate{}, ErrNoContactSignal
	}

	candidate.Confidence = confidence(candidate)
	return candidate, nil
}

// ValidEmail reports whether value has the basic shape of an email address.
func ValidEmail(value string) bool {
	return value != "" && emailPattern.MatchString(value)
}

// ValidPhone reports whether value carries at least the minimum number of
// digits to be a usable phone number.
func ValidPhone(value string) bool {
	digits := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}

func confidence(c models.ContactCandidate) float64 {
	populated := 0
	for _, field := range []string{c.Name, c.Email, c.Phone, c.Company} {
		if field != "" {
			populated++
		}
	}
	return float64(populated) / float64(requestedFields)
}

// MissingFields lists the requested fields the candidate has not populated,
// used to drive clarification prompts.
func MissingFields(c models.ContactCandidate) []string {
	missing := make([]string, 0, requestedFields)
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", c.Name},
		{"email", c.Email},
		{"phone", c.Phone},
		{"company", c.Company},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func parsePayload(raw string) (candidatePayload, error) {
	cleaned := stripFences(raw)

	// Models sometimes wrap the object in prose; keep the outermost object.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return candidatePayload{}, ErrMalformedOutput
	}

	// Field-level decoding stays tolerant: a field of the wrong type is
	// dropped like any other invalid field instead of rejecting the whole
	// candidate.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &fields); err != nil {
		return candidatePayload{}, ErrMalformedOutput
	}

	return candidatePayload{
		Name:    fieldString(fields["name"]),
		Email:   fieldString(fields["email"]),
		Phone:   fieldString(fields["phone"]),
		Company: fieldString(fields["company"]),
		Notes:   fieldString(fields["notes"]),
	}, nil
}

// fieldString decodes one payload field. Strings pass through, bare numbers
// are kept in their literal form (models emit unquoted phone numbers), and
// anything else is dropped.
func fieldString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}

func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	return strings.TrimSpace(cleaned)
}
