package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rbw-core/internal/clock"
	"rbw-core/internal/models"
	"rbw-core/internal/store"
)

// Event types for audit logging
const (
	EventMatchSubmitted  = "match_submitted"
	EventMatchScored     = "match_scored"
	EventMatchVoided     = "match_voided"
	EventBan             = "ban"
	EventUnban           = "unban"
	EventMute            = "mute"
	EventUnmute          = "unmute"
	EventStrike          = "strike"
	EventStrikesDecayed  = "strikes_decayed"
	EventScreenshare     = "screenshare"
	EventScreenshareDone = "screenshare_closed"
	EventBooster         = "booster"
	EventBandsConfigured = "bands_configured"
	EventQueueConfigured = "queue_configured"
	EventIGNVerified     = "ign_verified"
)

const writeTimeout = 5 * time.Second

type Logger struct {
	store store.AuditLog
	clock clock.Clock
	log   zerolog.Logger
}

func New(s store.AuditLog, clk clock.Clock, log zerolog.Logger) *Logger {
	return &Logger{store: s, clock: clk, log: log.With().Str("component", "audit").Logger()}
}

// Record writes an audit entry (fire-and-forget).
func (l *Logger) Record(event, actorID, subjectID string, details map[string]string) {
	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		Action:    event,
		ActorID:   actorID,
		SubjectID: subjectID,
		Details:   details,
		CreatedAt: l.clock.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := l.store.InsertAudit(ctx, entry); err != nil {
			l.log.Error().Err(err).Str("action", event).Str("subject_id", subjectID).Msg("audit log write failed")
		}
	}()
}
