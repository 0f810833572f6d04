// Package registry caches rank bands, queue configs and permission bindings.
// Writes go through the registry so the cache is invalidated in-process.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"rbw-core/internal/models"
	"rbw-core/internal/store"
)

type Registry struct {
	store store.Settings
	log   zerolog.Logger

	mu       sync.RWMutex
	bands    []models.RankBand
	queues   map[string]models.Queue
	bindings map[string][]string
	loaded   struct{ bands, queues, bindings bool }
}

func New(s store.Settings, log zerolog.Logger) *Registry {
	return &Registry{
		store: s,
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// ---- rank bands ----

func (r *Registry) Bands(ctx context.Context) ([]models.RankBand, error) {
	r.mu.RLock()
	if r.loaded.bands {
		out := append([]models.RankBand(nil), r.bands...)
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	bands, err := r.store.ListBands(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bands: %w", err)
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].MinRating < bands[j].MinRating })

	r.mu.Lock()
	r.bands = bands
	r.loaded.bands = true
	r.mu.Unlock()
	return append([]models.RankBand(nil), bands...), nil
}

// BandFor returns the band whose [min, max) contains rating.
func (r *Registry) BandFor(ctx context.Context, rating int) (models.RankBand, error) {
	bands, err := r.Bands(ctx)
	if err != nil {
		return models.RankBand{}, err
	}
	return bandFor(bands, rating)
}

func bandFor(bands []models.RankBand, rating int) (models.RankBand, error) {
	// First band whose lower bound exceeds rating; the candidate is the one before it.
	i := sort.Search(len(bands), func(i int) bool { return bands[i].MinRating > rating })
	if i == 0 {
		return models.RankBand{}, fmt.Errorf("%w: no rank band covers rating %d", models.ErrNotConfigured, rating)
	}
	b := bands[i-1]
	if !b.Contains(rating) {
		return models.RankBand{}, fmt.Errorf("%w: no rank band covers rating %d", models.ErrNotConfigured, rating)
	}
	return b, nil
}

// ConfigureBands validates and replaces the whole band table.
func (r *Registry) ConfigureBands(ctx context.Context, bands []models.RankBand) ([]models.RankBand, error) {
	sorted, err := models.ValidateBands(bands)
	if err != nil {
		return nil, err
	}
	if err := r.store.ReplaceBands(ctx, sorted); err != nil {
		r.invalidate()
		return nil, fmt.Errorf("store bands: %w", err)
	}
	r.mu.Lock()
	r.bands = sorted
	r.loaded.bands = true
	r.mu.Unlock()
	r.log.Info().Int("bands", len(sorted)).Msg("rank bands configured")
	return append([]models.RankBand(nil), sorted...), nil
}

// ---- queues ----

func (r *Registry) loadQueues(ctx context.Context) (map[string]models.Queue, error) {
	r.mu.RLock()
	if r.loaded.queues {
		q := r.queues
		r.mu.RUnlock()
		return q, nil
	}
	r.mu.RUnlock()

	list, err := r.store.ListQueues(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queues: %w", err)
	}
	queues := make(map[string]models.Queue, len(list))
	for _, q := range list {
		queues[q.ID] = q
	}

	r.mu.Lock()
	r.queues = queues
	r.loaded.queues = true
	r.mu.Unlock()
	return queues, nil
}

func (r *Registry) Queue(ctx context.Context, id string) (models.Queue, error) {
	queues, err := r.loadQueues(ctx)
	if err != nil {
		return models.Queue{}, err
	}
	q, ok := queues[id]
	if !ok {
		return models.Queue{}, fmt.Errorf("queue %s: %w", id, models.ErrNotFound)
	}
	return q, nil
}

// Queues returns every configured queue sorted by ID.
func (r *Registry) Queues(ctx context.Context) ([]models.Queue, error) {
	queues, err := r.loadQueues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Queue, 0, len(queues))
	for _, q := range queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) UpsertQueue(ctx context.Context, q models.Queue) error {
	if q.ChannelRef == "" {
		q.ChannelRef = q.ID
	}
	if err := q.Validate(); err != nil {
		return err
	}
	if err := r.store.UpsertQueue(ctx, &q); err != nil {
		return fmt.Errorf("store queue: %w", err)
	}
	r.invalidateQueues()
	return nil
}

func (r *Registry) DeleteQueue(ctx context.Context, id string) error {
	if err := r.store.DeleteQueue(ctx, id); err != nil {
		return fmt.Errorf("delete queue %s: %w", id, err)
	}
	r.invalidateQueues()
	return nil
}

// ---- permission bindings ----

func (r *Registry) RolesFor(ctx context.Context, key string) ([]string, error) {
	r.mu.RLock()
	if r.loaded.bindings {
		roles := append([]string(nil), r.bindings[key]...)
		r.mu.RUnlock()
		return roles, nil
	}
	r.mu.RUnlock()

	list, err := r.store.ListBindings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	bindings := make(map[string][]string, len(list))
	for _, b := range list {
		bindings[b.Key] = b.RoleRefs
	}

	r.mu.Lock()
	r.bindings = bindings
	r.loaded.bindings = true
	r.mu.Unlock()
	return append([]string(nil), bindings[key]...), nil
}

func (r *Registry) SetBinding(ctx context.Context, key string, roleRefs []string) error {
	if key == "" {
		return models.Invalid("key", "required")
	}
	if err := r.store.UpsertBinding(ctx, &models.PermissionBinding{Key: key, RoleRefs: roleRefs}); err != nil {
		return fmt.Errorf("store binding: %w", err)
	}
	r.mu.Lock()
	r.loaded.bindings = false
	r.mu.Unlock()
	return nil
}

func (r *Registry) invalidateQueues() {
	r.mu.Lock()
	r.loaded.queues = false
	r.mu.Unlock()
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.loaded.bands = false
	r.loaded.queues = false
	r.loaded.bindings = false
	r.mu.Unlock()
}
