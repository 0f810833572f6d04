package scoring

import (
	"math"

	"rbw-core/internal/models"
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// RatingDelta returns the rating change for one player of a ranked match:
// round(winDelta*m) plus the MVP bonus for winners, round(loseDelta*m) for losers.
func (c *Calculator) RatingDelta(band models.RankBand, won, mvp bool, multiplier float64) int {
	if multiplier <= 0 {
		multiplier = 1
	}
	if !won {
		return int(math.Round(float64(band.LoseDelta) * multiplier))
	}
	delta := int(math.Round(float64(band.WinDelta) * multiplier))
	if mvp {
		delta += band.MVPBonus
	}
	return delta
}

// DefaultMVPs picks the players tied for the most kills. No one qualifies
// when the best is zero.
func DefaultMVPs(stats map[string]models.PlayerGameStats) []string {
	best := 0
	for _, s := range stats {
		if s.Kills > best {
			best = s.Kills
		}
	}
	if best == 0 {
		return nil
	}
	var out []string
	for id, s := range stats {
		if s.Kills == best {
			out = append(out, id)
		}
	}
	return out
}
