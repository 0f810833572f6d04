package testsetup

import (
	"testing"

	"github.com/onsi/gomega"
	"github.com/rs/zerolog"
)

func WithGomega(t *testing.T) *gomega.WithT {
	return gomega.NewWithT(t)
}

func ParallelWithGomega(t *testing.T) *gomega.WithT {
	t.Parallel()
	return gomega.NewWithT(t)
}

// Logger writes through t.Log so worker output shows up next to failures.
func Logger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel)
}
