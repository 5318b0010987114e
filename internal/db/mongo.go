package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
	"github.com/svaboev-coder/collecting-contacts/internal/utils"
)

// Mongo keeps terminal sessions for audit: a session is archived with its
// transcript and outcome when it completes, abandons, or times out.
type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	Sessions *mongo.Collection
}

// ArchivedSession is the stored form of a finished session.
type ArchivedSession struct {
	SessionID   string                    `bson:"session_id"`
	State       string                    `bson:"state"`
	Turns       []models.ConversationTurn `bson:"turns"`
	Candidate   *models.ContactCandidate  `bson:"candidate,omitempty"`
	IdentityKey string                    `bson:"identity_key,omitempty"`
	Reason      string                    `bson:"reason,omitempty"`
	CreatedAt   time.Time                 `bson:"created_at"`
	ArchivedAt  time.Time                 `bson:"archived_at"`
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	db := client.Database(cfg.Database)
	store := &Mongo{
		Client:   client,
		Database: db,
		Sessions: db.Collection("sessions"),
	}

	return store, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func (m *Mongo) EnsureCollections(ctx context.Context) error {
	if m == nil || m.Database == nil {
		return fmt.Errorf("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.Sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "archived_at", Value: -1}},
		Options: options.Index(),
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure session index: %w", err)
	}

	return nil
}

// ArchiveSession persists a finished session. Nil receivers are tolerated so
// archival stays optional when mongo is not configured.
func (m *Mongo) ArchiveSession(ctx context.Context, archived ArchivedSession) error {
	if m == nil || m.Sessions == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if archived.ArchivedAt.IsZero() {
		archived.ArchivedAt = time.Now().UTC()
	}

	if _, err := m.Sessions.InsertOne(ctx, archived); err != nil {
		return fmt.Errorf("mongo: archive session: %w", err)
	}
	return nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
