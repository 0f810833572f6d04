package scoring

import (
	"context"

	"rbw-core/internal/clock"
)

// RunDailyReset zeroes every dailyRating once per UTC day.
func (s *Service) RunDailyReset(ctx context.Context) {
	guard := &clock.DayGuard{Job: "daily-rating-reset", Ledger: s.store}
	clock.Every(ctx, s.clock, s.log, guard.Job, s.cfg.DailyCheckInterval, func(ctx context.Context) error {
		return guard.Run(ctx, s.clock.Now(), s.ResetDaily)
	})
}

func (s *Service) ResetDaily(ctx context.Context) error {
	n, err := s.store.ResetDailyRatings(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Int64("players", n).Msg("daily ratings reset")
	return nil
}

// RunDecay applies rating decay once per UTC day when enabled.
func (s *Service) RunDecay(ctx context.Context) {
	if !s.cfg.Decay.Enabled {
		return
	}
	guard := &clock.DayGuard{Job: "rating-decay", Ledger: s.store}
	clock.Every(ctx, s.clock, s.log, guard.Job, s.cfg.DailyCheckInterval, func(ctx context.Context) error {
		return guard.Run(ctx, s.clock.Now(), s.Decay)
	})
}

// Decay lowers players at or above the threshold who have not played within
// InactiveFor, never below the threshold.
func (s *Service) Decay(ctx context.Context) error {
	d := s.cfg.Decay
	n, err := s.store.DecayRatings(ctx, d.Value, d.Threshold, s.clock.Now().Add(-d.InactiveFor))
	if err != nil {
		return err
	}
	s.log.Info().Int64("players", n).Int("value", d.Value).Int("threshold", d.Threshold).Msg("rating decay applied")
	return nil
}
