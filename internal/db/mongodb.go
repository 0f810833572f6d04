package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	log      zerolog.Logger
}

func NewMongoDB(uri, database string, log zerolog.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		Client:   client,
		Database: client.Database(database),
		log:      log.With().Str("component", "mongodb").Logger(),
	}, nil
}

// EnsureIndexes creates all required indexes. Unique indexes back the
// Conflict guarantees of the store, so callers should run it before serving.
func (m *MongoDB) EnsureIndexes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	indexes := []struct {
		collection string
		models     []mongo.IndexModel
	}{
		{
			"users",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "ignLower", Value: 1}}, Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"ignLower": bson.M{"$type": "string", "$gt": ""}})},
				{Keys: bson.D{{Key: "rating", Value: -1}}},
				{Keys: bson.D{{Key: "lastGameAt", Value: 1}}},
				{Keys: bson.D{{Key: "latestStrike.date", Value: 1}}, Options: options.Index().SetSparse(true)},
			},
		},
		{
			"parties",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "members", Value: 1}}},
				{Keys: bson.D{{Key: "lastActivityAt", Value: 1}}},
			},
		},
		{
			"games",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "state", Value: 1}, {Key: "createdAt", Value: -1}}},
			},
		},
		{
			"recentgames",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "matchId", Value: 1}, {Key: "playerId", Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: "playerId", Value: 1}, {Key: "at", Value: -1}}},
			},
		},
		{
			"bans",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "resolved", Value: 1}, {Key: "expiresAt", Value: 1}}},
				{Keys: bson.D{{Key: "playerId", Value: 1}}},
			},
		},
		{
			"mutes",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "resolved", Value: 1}, {Key: "expiresAt", Value: 1}}},
				{Keys: bson.D{{Key: "playerId", Value: 1}}},
			},
		},
		{
			"strikes",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "playerId", Value: 1}, {Key: "removed", Value: 1}}},
			},
		},
		{
			"screenshares",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "targetId", Value: 1}, {Key: "state", Value: 1}}},
			},
		},
		{
			"audit_log",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)}, // 90-day retention
				{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "createdAt", Value: -1}}},
			},
		},
	}

	for _, idx := range indexes {
		coll := m.Database.Collection(idx.collection)
		if _, err := coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			m.log.Warn().Err(err).Str("collection", idx.collection).Msg("failed to create indexes")
		}
	}

	m.log.Info().Msg("database indexes ensured")
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) Users() *mongo.Collection {
	return m.Database.Collection("users")
}

func (m *MongoDB) Queues() *mongo.Collection {
	return m.Database.Collection("queues")
}

// Elos holds the rank bands.
func (m *MongoDB) Elos() *mongo.Collection {
	return m.Database.Collection("elos")
}

func (m *MongoDB) Parties() *mongo.Collection {
	return m.Database.Collection("parties")
}

func (m *MongoDB) Games() *mongo.Collection {
	return m.Database.Collection("games")
}

func (m *MongoDB) GamesChannels() *mongo.Collection {
	return m.Database.Collection("gameschannels")
}

func (m *MongoDB) RecentGames() *mongo.Collection {
	return m.Database.Collection("recentgames")
}

func (m *MongoDB) Bans() *mongo.Collection {
	return m.Database.Collection("bans")
}

func (m *MongoDB) Mutes() *mongo.Collection {
	return m.Database.Collection("mutes")
}

func (m *MongoDB) Strikes() *mongo.Collection {
	return m.Database.Collection("strikes")
}

func (m *MongoDB) Screenshares() *mongo.Collection {
	return m.Database.Collection("screenshares")
}

// Settings holds permission bindings.
func (m *MongoDB) Settings() *mongo.Collection {
	return m.Database.Collection("settings")
}

func (m *MongoDB) Booster() *mongo.Collection {
	return m.Database.Collection("booster")
}

func (m *MongoDB) Counters() *mongo.Collection {
	return m.Database.Collection("counters")
}

func (m *MongoDB) AuditLog() *mongo.Collection {
	return m.Database.Collection("audit_log")
}

// TransientCollections are cleared by the maintenance script; they hold
// per-match state that is safe to drop between seasons.
func (m *MongoDB) TransientCollections() []*mongo.Collection {
	return []*mongo.Collection{m.Parties(), m.GamesChannels(), m.Screenshares()}
}
