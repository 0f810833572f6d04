package app

import (
	"time"

	"rbw-core/internal/bridge"
	"rbw-core/internal/builder"
	"rbw-core/internal/config"
	"rbw-core/internal/coordinator"
	"rbw-core/internal/eventbus"
	"rbw-core/internal/matchmaking"
	"rbw-core/internal/moderation"
	"rbw-core/internal/party"
	"rbw-core/internal/scoring"
	"rbw-core/internal/verification"
)

// dailyCheckInterval is how often the once-per-day jobs look at the clock.
const dailyCheckInterval = time.Minute

func bridgeConfig(c *config.Config) bridge.Config {
	return bridge.Config{
		Path:            c.Bridge.Path,
		PingInterval:    c.Bridge.PingInterval.D(),
		PongTimeout:     c.Bridge.PongTimeout.D(),
		WriteTimeout:    c.Bridge.WriteTimeout.D(),
		JanitorInterval: c.Bridge.JanitorInterval.D(),
		RequestTimeout:  c.Bridge.RequestTimeout.D(),
		MaxMessageBytes: c.Bridge.MaxMessageBytes,
	}
}

func eventbusConfig(c *config.Config) eventbus.Config {
	return eventbus.Config{
		URL:            c.NATS.URL,
		Name:           c.NATS.Name,
		SubjectPrefix:  c.NATS.SubjectPrefix,
		RequestTimeout: c.NATS.RequestTimeout.D(),
	}
}

func engineConfig(c *config.Config) matchmaking.Config {
	return matchmaking.Config{
		CheckInterval:      c.Queue.CheckInterval.D(),
		PartialWait:        c.Queue.PartialBatchWait.D(),
		MinPartial:         c.Queue.MinPartialBatch,
		ProcessingCooldown: c.Queue.ProcessingCooldown.D(),
		LockTimeout:        c.Queue.LockTimeout.D(),
		RequireOnline:      c.Queue.RequireOnline,
		OnlineCheckTimeout: c.Queue.OnlineCheckTimeout.D(),
		StatusInterval:     c.Queue.StatusInterval.D(),
		StatusHeartbeat:    c.Queue.StatusHeartbeat.D(),
	}
}

func builderConfig(c *config.Config) builder.Config {
	return builder.Config{
		Maps:          c.Maps,
		GamesCategory: c.Channels.GamesCategory,
	}
}

func coordinatorConfig(c *config.Config) coordinator.Config {
	return coordinator.Config{
		WarpTimeout:   c.Warp.Timeout.D(),
		MaxAttempts:   c.Warp.MaxRetryAttempts,
		RetryDelay:    c.Warp.RetryDelay.D(),
		SweepInterval: c.Channels.SweepInterval.D(),
	}
}

func scoringConfig(c *config.Config) scoring.Config {
	return scoring.Config{
		DefaultMultiplier: c.Scoring.BoosterMultiplier,
		FloorDaily:        c.Scoring.DailyFloorZero,
		Decay: scoring.DecayConfig{
			Enabled:     c.Scoring.RatingDecay.Enabled,
			Value:       c.Scoring.RatingDecay.Value,
			Threshold:   c.Scoring.RatingDecay.Threshold,
			InactiveFor: c.Scoring.RatingDecay.InactiveFor.D(),
		},
		DailyCheckInterval: dailyCheckInterval,
	}
}

func moderationConfig(c *config.Config) moderation.Config {
	return moderation.Config{
		ExpiryInterval:     c.Moderation.ExpiryInterval.D(),
		StrikeDecay:        time.Duration(c.Moderation.StrikeDecayDays) * 24 * time.Hour,
		StrikeActions:      c.Moderation.StrikeActions,
		DailyCheckInterval: dailyCheckInterval,
	}
}

func partyConfig(c *config.Config) party.Config {
	return party.Config{
		SizeMax:         c.Party.SizeMax,
		InviteTimeout:   c.Party.InviteTimeout.D(),
		InactiveTimeout: c.Party.InactiveTimeout.D(),
		SweepInterval:   c.Party.AutoDisbandInterval.D(),
	}
}

func verificationConfig(c *config.Config) verification.Config {
	return verification.Config{
		CodeTTL:         c.Verification.CodeTTL.D(),
		JanitorInterval: time.Minute,
	}
}
