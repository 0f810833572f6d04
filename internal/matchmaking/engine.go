// Package matchmaking owns queue membership. Players enter a queue by
// joining its voice room; a worker per queue groups them into batches and
// hands each batch to the match builder.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/rs/zerolog"

	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/locks"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
	"rbw-core/internal/registry"
	"rbw-core/internal/store"
)

// joinLockTimeout bounds how long an admission waits for the player mutexes
// of a whole party.
const joinLockTimeout = 2 * time.Second

type Config struct {
	CheckInterval      time.Duration
	PartialWait        time.Duration
	MinPartial         int
	ProcessingCooldown time.Duration
	LockTimeout        time.Duration
	RequireOnline      bool
	OnlineCheckTimeout time.Duration
	StatusInterval     time.Duration
	StatusHeartbeat    time.Duration
}

// Batch is handed to the BatchHandler once its players have left the queue.
type Batch struct {
	Queue   models.Queue
	Players []string
	Parties [][]string
	Partial bool
}

// BatchHandler builds a match from a batch. It runs on its own goroutine;
// the players stay marked as in match creation until it returns.
type BatchHandler func(ctx context.Context, b Batch)

// Store is the slice of persistence the engine reads.
type Store interface {
	store.Players
	store.Parties
}

// Platform is what the engine needs from the chat host.
type Platform interface {
	host.LobbyMover
	host.VoiceDirectory
}

type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeAlready  Outcome = "already_queued"
	OutcomeHeld     Outcome = "held"
	OutcomeRejected Outcome = "rejected"
	OutcomeBusy     Outcome = "in_match_creation"
)

// JoinResult reports an admission decision. Rejections are results, not errors.
type JoinResult struct {
	Outcome Outcome
	Reason  string
}

type Engine struct {
	cfg      Config
	store    Store
	registry *registry.Registry
	locks    *locks.PlayerLocks
	platform Platform
	online   OnlineChecker
	status   StatusPublisher
	clock    clock.Clock
	metrics  metrics.Metrics
	log      zerolog.Logger

	handler BatchHandler

	mu          sync.Mutex
	queues      map[string]*queueState
	playerQueue map[string]string
	inCreation  map[string]bool

	dirty atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

type queueState struct {
	id string

	mu          sync.Mutex
	players     map[string]time.Time
	playerParty map[string]string
	parties     map[string]*Group
	// held collects party members waiting in the room for the rest of the party.
	held        map[string]map[string]bool
	lastBatchAt time.Time
	rng         *rand.Rand
}

func newQueueState(id string) *queueState {
	return &queueState{
		id:          id,
		players:     map[string]time.Time{},
		playerParty: map[string]string{},
		parties:     map[string]*Group{},
		held:        map[string]map[string]bool{},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func NewEngine(cfg Config, s Store, reg *registry.Registry, pl *locks.PlayerLocks, platform Platform, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		store:       s,
		registry:    reg,
		locks:       pl,
		platform:    platform,
		clock:       clk,
		metrics:     m,
		log:         log.With().Str("component", "matchmaking").Logger(),
		queues:      map[string]*queueState{},
		playerQueue: map[string]string{},
		inCreation:  map[string]bool{},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetBatchHandler registers the callback invoked for every emitted batch.
func (e *Engine) SetBatchHandler(fn BatchHandler) {
	e.handler = fn
}

// SetOnlineChecker enables the in-game presence check on admission.
func (e *Engine) SetOnlineChecker(c OnlineChecker) {
	e.online = c
}

// SetStatusPublisher enables queuestatus broadcasts.
func (e *Engine) SetStatusPublisher(p StatusPublisher) {
	e.status = p
}

// Start launches a batching worker for every configured queue plus the
// status broadcaster. Queues configured later get a worker on first join.
func (e *Engine) Start(ctx context.Context) error {
	queues, err := e.registry.Queues(ctx)
	if err != nil {
		return fmt.Errorf("load queues: %w", err)
	}
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	for _, q := range queues {
		e.state(q.ID)
	}
	if e.status != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runStatus(e.ctx)
		}()
	}
	e.log.Info().Int("queues", len(queues)).Msg("matchmaking started")
	return nil
}

// Stop cancels every worker and waits for in-flight batch handlers.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Info().Msg("matchmaking stopped")
}

// state returns the queue state, creating it and its worker on first use.
func (e *Engine) state(queueID string) *queueState {
	e.mu.Lock()
	defer e.mu.Unlock()
	qs, ok := e.queues[queueID]
	if ok {
		return qs
	}
	qs = newQueueState(queueID)
	e.queues[queueID] = qs
	if e.started {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			clock.Every(e.ctx, e.clock, e.log, "queue:"+queueID, e.cfg.CheckInterval, func(ctx context.Context) error {
				return e.Process(ctx, queueID)
			})
		}()
	}
	return qs
}

func (e *Engine) lookupState(queueID string) (*queueState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	qs, ok := e.queues[queueID]
	return qs, ok
}

// QueueOf returns the queue the player is in, or "".
func (e *Engine) QueueOf(playerID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playerQueue[playerID]
}

// InMatchCreation reports whether the player was batched and the match is
// still being built.
func (e *Engine) InMatchCreation(playerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inCreation[playerID]
}

// Members returns the players queued in queueID.
func (e *Engine) Members(queueID string) []string {
	qs, ok := e.lookupState(queueID)
	if !ok {
		return nil
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	out := make([]string, 0, len(qs.players))
	for id := range qs.players {
		out = append(out, id)
	}
	return pie.Sort(out)
}

// HandleVoiceEvent turns a voice move into a leave of the old queue room
// and a join of the new one. Rooms that are not queues are ignored.
func (e *Engine) HandleVoiceEvent(ctx context.Context, ev host.VoiceEvent) error {
	if ev.PlayerID == "" || ev.From == ev.To {
		return nil
	}
	if ev.From != "" {
		if err := e.Leave(ctx, ev.PlayerID); err != nil {
			return err
		}
	}
	if ev.To == "" {
		return nil
	}
	q, ok, err := e.queueForChannel(ctx, ev.To)
	if err != nil || !ok {
		return err
	}
	res, err := e.Join(ctx, ev.PlayerID, q.ID)
	if err != nil {
		return err
	}
	e.log.Debug().Str("player_id", ev.PlayerID).Str("queue_id", q.ID).Str("outcome", string(res.Outcome)).Str("reason", res.Reason).Msg("voice join handled")
	return nil
}

func (e *Engine) queueForChannel(ctx context.Context, ref string) (models.Queue, bool, error) {
	queues, err := e.registry.Queues(ctx)
	if err != nil {
		return models.Queue{}, false, err
	}
	for _, q := range queues {
		if q.ChannelRef == ref {
			return q, true, nil
		}
	}
	return models.Queue{}, false, nil
}

// Join admits a player, and their party when it is complete, into queueID.
func (e *Engine) Join(ctx context.Context, playerID, queueID string) (JoinResult, error) {
	q, err := e.registry.Queue(ctx, queueID)
	if err != nil {
		return JoinResult{}, err
	}

	party, err := e.store.FindPartyByMember(ctx, playerID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return JoinResult{}, fmt.Errorf("find party: %w", err)
	}
	lockIDs := []string{playerID}
	if party != nil && len(party.Members) > 1 {
		lockIDs = party.Members
	} else {
		party = nil
	}
	release, ok := e.locks.AcquireAll(lockIDs, joinLockTimeout)
	if !ok {
		return JoinResult{}, fmt.Errorf("join %s: player busy: %w", playerID, models.ErrTransient)
	}
	defer release()

	e.mu.Lock()
	busy := e.inCreation[playerID]
	current := e.playerQueue[playerID]
	e.mu.Unlock()
	if busy {
		return JoinResult{Outcome: OutcomeBusy}, nil
	}
	if current == queueID {
		return JoinResult{Outcome: OutcomeAlready}, nil
	}
	if current != "" {
		e.detach(ctx, playerID, current, "a party member switched queues")
	}

	if !q.Enabled {
		return e.reject(ctx, []string{playerID}, "this queue is closed"), nil
	}
	if party == nil {
		return e.admitSingle(ctx, q, playerID)
	}
	return e.admitParty(ctx, q, party, playerID)
}

func (e *Engine) admitSingle(ctx context.Context, q models.Queue, playerID string) (JoinResult, error) {
	reason, err := e.check(ctx, q, []string{playerID})
	if err != nil {
		return JoinResult{}, err
	}
	if reason != "" {
		return e.reject(ctx, []string{playerID}, reason), nil
	}
	qs := e.state(q.ID)
	qs.mu.Lock()
	qs.players[playerID] = e.clock.Now()
	e.mu.Lock()
	e.playerQueue[playerID] = q.ID
	e.mu.Unlock()
	n := len(qs.players)
	qs.mu.Unlock()

	e.changed(q.ID, n)
	e.log.Info().Str("player_id", playerID).Str("queue_id", q.ID).Msg("player queued")
	return JoinResult{Outcome: OutcomeAdmitted}, nil
}

func (e *Engine) admitParty(ctx context.Context, q models.Queue, party *models.Party, playerID string) (JoinResult, error) {
	qs := e.state(q.ID)

	occupants, err := e.platform.Occupants(ctx, q.ChannelRef)
	if err != nil {
		e.log.Warn().Err(err).Str("queue_id", q.ID).Msg("voice occupants unavailable")
	}
	qs.mu.Lock()
	present := map[string]bool{playerID: true}
	for id := range qs.held[party.ID] {
		present[id] = true
	}
	qs.mu.Unlock()
	for _, id := range occupants {
		if party.HasMember(id) {
			present[id] = true
		}
	}
	presentIDs := pie.Sort(pie.Keys(present))

	if len(party.Members) > q.MaxPlayers/2 {
		e.unhold(qs, party.ID)
		return e.reject(ctx, presentIDs, fmt.Sprintf("your party of %d is too large for this queue", len(party.Members))), nil
	}
	if len(presentIDs) < len(party.Members) {
		qs.mu.Lock()
		if qs.held[party.ID] == nil {
			qs.held[party.ID] = map[string]bool{}
		}
		qs.held[party.ID][playerID] = true
		qs.mu.Unlock()
		return JoinResult{Outcome: OutcomeHeld}, nil
	}

	e.unhold(qs, party.ID)
	reason, err := e.check(ctx, q, party.Members)
	if err != nil {
		return JoinResult{}, err
	}
	if reason != "" {
		return e.reject(ctx, presentIDs, reason), nil
	}

	for _, id := range party.Members {
		if id == playerID {
			continue
		}
		if cur := e.QueueOf(id); cur != "" && cur != q.ID {
			e.detach(ctx, id, cur, "")
		}
	}

	now := e.clock.Now()
	qs.mu.Lock()
	for _, id := range party.Members {
		// Members admitted earlier as singles are regrouped.
		qs.players[id] = now
		qs.playerParty[id] = party.ID
	}
	qs.parties[party.ID] = &Group{PartyID: party.ID, Members: append([]string(nil), party.Members...), JoinedAt: now}
	e.mu.Lock()
	for _, id := range party.Members {
		e.playerQueue[id] = q.ID
	}
	e.mu.Unlock()
	n := len(qs.players)
	qs.mu.Unlock()

	e.changed(q.ID, n)
	e.log.Info().Str("party_id", party.ID).Int("members", len(party.Members)).Str("queue_id", q.ID).Msg("party queued")
	return JoinResult{Outcome: OutcomeAdmitted}, nil
}

func (e *Engine) unhold(qs *queueState, partyID string) {
	qs.mu.Lock()
	delete(qs.held, partyID)
	qs.mu.Unlock()
}

// reject moves every listed player to the lobby with the reason.
func (e *Engine) reject(ctx context.Context, playerIDs []string, reason string) JoinResult {
	for _, id := range playerIDs {
		if err := e.platform.MoveToLobby(ctx, id, reason); err != nil {
			e.log.Warn().Err(err).Str("player_id", id).Msg("move to lobby failed")
		}
	}
	e.log.Info().Strs("players", playerIDs).Str("reason", reason).Msg("queue join rejected")
	return JoinResult{Outcome: OutcomeRejected, Reason: reason}
}

// Leave removes the player from their queue. A queued party leaves as a
// whole; the other members are sent back to the lobby.
func (e *Engine) Leave(ctx context.Context, playerID string) error {
	if err := e.locks.Lock(ctx, playerID); err != nil {
		return err
	}
	defer e.locks.Unlock(playerID)

	e.mu.Lock()
	queueID := e.playerQueue[playerID]
	states := make([]*queueState, 0, len(e.queues))
	for _, qs := range e.queues {
		states = append(states, qs)
	}
	e.mu.Unlock()

	for _, qs := range states {
		qs.mu.Lock()
		for partyID, held := range qs.held {
			delete(held, playerID)
			if len(held) == 0 {
				delete(qs.held, partyID)
			}
		}
		qs.mu.Unlock()
	}
	if queueID == "" {
		return nil
	}
	e.detach(ctx, playerID, queueID, "a party member left the queue")
	return nil
}

// detach removes the player, and any party queued with them, from queueID.
// Co-members are moved to the lobby with reason when it is non-empty.
func (e *Engine) detach(ctx context.Context, playerID, queueID, reason string) {
	qs, ok := e.lookupState(queueID)
	if !ok {
		return
	}
	qs.mu.Lock()
	removed := []string{playerID}
	if partyID := qs.playerParty[playerID]; partyID != "" {
		if g := qs.parties[partyID]; g != nil {
			removed = append([]string(nil), g.Members...)
		}
		delete(qs.parties, partyID)
	}
	e.mu.Lock()
	for _, id := range removed {
		delete(qs.players, id)
		delete(qs.playerParty, id)
		if e.playerQueue[id] == queueID {
			delete(e.playerQueue, id)
		}
	}
	e.mu.Unlock()
	n := len(qs.players)
	qs.mu.Unlock()

	e.changed(queueID, n)
	e.log.Info().Str("player_id", playerID).Str("queue_id", queueID).Int("removed", len(removed)).Msg("left queue")
	if reason == "" {
		return
	}
	for _, id := range removed {
		if id == playerID {
			continue
		}
		if err := e.platform.MoveToLobby(ctx, id, reason); err != nil {
			e.log.Warn().Err(err).Str("player_id", id).Msg("move to lobby failed")
		}
	}
}

// Process runs one batching pass over queueID.
func (e *Engine) Process(ctx context.Context, queueID string) error {
	q, err := e.registry.Queue(ctx, queueID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !q.Enabled {
		return nil
	}
	qs := e.state(queueID)
	now := e.clock.Now()

	qs.mu.Lock()
	groups := qs.snapshotLocked()
	plans := ComputeBatches(groups, Rules{
		MaxPlayers:   q.MaxPlayers,
		MinPartial:   e.cfg.MinPartial,
		PartialWait:  e.cfg.PartialWait,
		AllowPartial: now.Sub(qs.lastBatchAt) >= e.cfg.ProcessingCooldown,
	}, now, qs.rng)
	qs.mu.Unlock()

	for _, plan := range plans {
		e.emit(q, qs, plan)
	}
	return nil
}

func (qs *queueState) snapshotLocked() []Group {
	groups := make([]Group, 0, len(qs.players))
	for _, g := range qs.parties {
		groups = append(groups, Group{PartyID: g.PartyID, Members: append([]string(nil), g.Members...), JoinedAt: g.JoinedAt})
	}
	for id, joined := range qs.players {
		if qs.playerParty[id] == "" {
			groups = append(groups, Group{Members: []string{id}, JoinedAt: joined})
		}
	}
	return groups
}

// emit locks the batch, moves its players from the queue into match
// creation and hands it off. A batch whose locks cannot be taken is left for
// the next pass.
func (e *Engine) emit(q models.Queue, qs *queueState, plan Plan) {
	players := plan.Players()
	release, ok := e.locks.AcquireAll(players, e.cfg.LockTimeout)
	if !ok {
		e.log.Debug().Str("queue_id", q.ID).Msg("batch locks busy, retrying next pass")
		return
	}

	qs.mu.Lock()
	for _, id := range players {
		if _, queued := qs.players[id]; !queued {
			qs.mu.Unlock()
			release()
			return
		}
	}
	e.mu.Lock()
	for _, id := range players {
		delete(qs.players, id)
		delete(qs.playerParty, id)
		delete(e.playerQueue, id)
		e.inCreation[id] = true
	}
	e.mu.Unlock()
	for _, g := range plan.Groups {
		if g.PartyID != "" {
			delete(qs.parties, g.PartyID)
		}
	}
	qs.lastBatchAt = e.clock.Now()
	n := len(qs.players)
	qs.mu.Unlock()
	release()

	e.metrics.BatchEmitted(q.ID, plan.Partial)
	e.changed(q.ID, n)
	e.log.Info().Str("queue_id", q.ID).Strs("players", players).Bool("partial", plan.Partial).Msg("batch emitted")

	batch := Batch{Queue: q, Players: players, Parties: plan.Parties(), Partial: plan.Partial}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.finishCreation(players)
		if e.handler == nil {
			e.log.Warn().Str("queue_id", q.ID).Msg("no batch handler registered")
			return
		}
		e.handler(e.ctx, batch)
	}()
}

func (e *Engine) finishCreation(players []string) {
	e.mu.Lock()
	for _, id := range players {
		delete(e.inCreation, id)
	}
	e.mu.Unlock()
}

func (e *Engine) changed(queueID string, size int) {
	e.metrics.QueueSize(queueID, size)
	e.dirty.Store(true)
}
