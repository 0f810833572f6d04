package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"rbw-core/internal/config"
	"rbw-core/internal/db"
	"rbw-core/internal/logger"
)

// Drops parties, match rooms and screenshares. Players, matches and
// sanctions are kept.
func main() {
	cfg, err := config.Load(config.GetEnv())
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.LogLevel)

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, c := range mongodb.TransientCollections() {
		res, err := c.DeleteMany(ctx, bson.M{})
		if err != nil {
			log.Fatal().Err(err).Str("collection", c.Name()).Msg("failed to clear collection")
		}
		log.Info().Str("collection", c.Name()).Int64("deleted", res.DeletedCount).Msg("collection cleared")
	}
	log.Info().Msg("transient state cleared")
}
