package matchmaking

import (
	"context"
	"time"

	"rbw-core/internal/bridge"
	"rbw-core/internal/clock"
)

// StatusPublisher fans queue status out to game servers.
type StatusPublisher interface {
	Broadcast(msgType string, payload interface{}) (int, error)
}

// QueueStatus describes one queue for status displays.
type QueueStatus struct {
	QueueID   string   `json:"queueId"`
	Name      string   `json:"name"`
	Players   []string `json:"players"`
	IGNs      []string `json:"igns"`
	MinRating int      `json:"minRating"`
	MaxRating int      `json:"maxRating"`
	Capacity  int      `json:"capacity"`
	Enabled   bool     `json:"enabled"`
}

// Status returns every configured queue with its current members.
func (e *Engine) Status(ctx context.Context) ([]QueueStatus, error) {
	queues, err := e.registry.Queues(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	out := make([]QueueStatus, 0, len(queues))
	for _, q := range queues {
		members := e.Members(q.ID)
		ids = append(ids, members...)
		out = append(out, QueueStatus{
			QueueID:   q.ID,
			Name:      q.Name,
			Players:   members,
			MinRating: q.MinRating,
			MaxRating: q.MaxRating,
			Capacity:  q.MaxPlayers,
			Enabled:   q.Enabled,
		})
	}
	players, err := e.store.GetPlayers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].IGNs = make([]string, 0, len(out[i].Players))
		for _, id := range out[i].Players {
			if p, ok := players[id]; ok && p.IGN != "" {
				out[i].IGNs = append(out[i].IGNs, p.IGN)
			}
		}
	}
	return out, nil
}

// runStatus publishes queuestatus when membership changed since the last
// poll, and at least once per heartbeat.
func (e *Engine) runStatus(ctx context.Context) {
	var lastSent time.Time
	clock.Every(ctx, e.clock, e.log, "queue-status", e.cfg.StatusInterval, func(ctx context.Context) error {
		now := e.clock.Now()
		if !e.dirty.Swap(false) && now.Sub(lastSent) < e.cfg.StatusHeartbeat {
			return nil
		}
		if err := e.publishStatus(ctx); err != nil {
			e.dirty.Store(true)
			return err
		}
		lastSent = now
		return nil
	})
}

func (e *Engine) publishStatus(ctx context.Context) error {
	statuses, err := e.Status(ctx)
	if err != nil {
		return err
	}
	msg := bridge.QueueStatus{Queues: make(map[string]bridge.QueueStatusEntry, len(statuses))}
	for _, s := range statuses {
		name := s.Name
		if name == "" {
			name = s.QueueID
		}
		msg.Queues[name] = bridge.QueueStatusEntry{
			Players:  s.IGNs,
			EloRange: bridge.EloRange{Min: s.MinRating, Max: s.MaxRating},
			Capacity: s.Capacity,
		}
	}
	_, err = e.status.Broadcast(bridge.TypeQueueStatus, msg)
	return err
}
