// Package game composes the turn machinery into matches: it owns every running
// game, serializes submissions per game, and publishes what changed.
package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/powers"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/shipyard/shipyard-server-go/internal/game/turn"
	"go.uber.org/zap"
)

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrGameFull        = errors.New("game is full")
	ErrGameNotWaiting  = errors.New("game is not accepting players")
	ErrAlreadyJoined   = errors.New("player already joined")
	ErrUnauthenticated = errors.New("invalid player credentials")
)

// Store persists snapshots. Load returns an error wrapping ErrGameNotFound for
// unknown games.
type Store interface {
	Save(ctx context.Context, s *state.GameState) error
	Load(ctx context.Context, gameID string) (*state.GameState, error)
}

// Credentials hashes and checks player tokens.
type Credentials interface {
	Hash(token string) (string, error)
	Verify(hash, token string) error
}

// EngineConfig carries the engine's collaborators. Catalog is required.
type EngineConfig struct {
	Catalog     catalog.Catalog
	Logger      *zap.Logger
	Dice        turn.Dice
	Strategies  map[string]powers.Strategy
	Store       Store
	Credentials Credentials
	// Defaults apply to games created without settings of their own.
	Defaults state.Settings
	// ReplayDir receives a replay file per completed game. Empty keeps replays
	// in memory.
	ReplayDir string
	Clock     func() time.Time
}

// Engine is the game engine: the boundary every transport talks to.
type Engine struct {
	logger      *zap.Logger
	catalog     catalog.Catalog
	phase       *turn.Engine
	rules       *RulesEngine
	store       Store
	credentials Credentials
	replays     *ReplayRecorder
	defaults    state.Settings
	bus         *rules.EventBus
	clock       func() time.Time

	mu    sync.RWMutex
	games map[string]*gameEntry
}

// gameEntry guards one match; its mutex is the per-game submission lock.
type gameEntry struct {
	mu        sync.Mutex
	state     *state.GameState
	analytics *gameAnalytics
}

// NewEngine wires the phase, battle, power and resolution components together.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("game engine requires a catalog")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		logger:      logger,
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		credentials: cfg.Credentials,
		replays:     NewReplayRecorder(logger, cfg.ReplayDir),
		defaults:    cfg.Defaults,
		bus:         rules.NewEventBus(),
		clock:       clock,
		games:       make(map[string]*gameEntry),
	}

	opts := []powers.Option{powers.WithWarningHandler(e.recordWarning)}
	if cfg.Strategies != nil {
		opts = append(opts, powers.WithStrategies(cfg.Strategies))
	}
	e.phase = turn.NewEngine(turn.Config{
		Catalog:  cfg.Catalog,
		Resolver: powers.NewResolver(logger, opts...),
		Dice:     cfg.Dice,
		Logger:   logger,
	})
	e.rules = NewRulesEngine(cfg.Catalog, e.phase, logger)
	return e, nil
}

// Events exposes the bus engine events are published on.
func (e *Engine) Events() *rules.EventBus {
	return e.bus
}

// Catalog returns the definitions games are played with.
func (e *Engine) Catalog() catalog.Catalog {
	return e.catalog
}

// Rules returns the rules engine.
func (e *Engine) Rules() *RulesEngine {
	return e.rules
}

// CreateGame opens a match, seats its creator and returns the creator's view.
func (e *Engine) CreateGame(ctx context.Context, req CreateRequest) (*PlayerView, error) {
	now := e.clock()
	settings := req.Settings
	if settings == (state.Settings{}) {
		settings = e.defaults
	}
	empty := state.New(uuid.NewString(), settings, now)

	next := empty.Clone()
	creator, err := e.seat(next, req.Creator)
	if err != nil {
		return nil, err
	}
	next.Touch(now)
	if e.store != nil {
		if err := e.store.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to persist game %s: %w", next.ID, err)
		}
	}

	entry := &gameEntry{state: next, analytics: newGameAnalytics(now)}
	e.mu.Lock()
	e.games[next.ID] = entry
	e.mu.Unlock()

	e.replays.StartRecording(next.ID)
	e.replays.RecordState(next.ID, next)

	created := rules.NewEvent(rules.EventGameCreated, next.ID, creator)
	created.Timestamp = now
	created.Version = next.Version
	events := append([]rules.Event{created}, diffEvents(empty, next, creator, now)...)
	entry.analytics.track(events)
	e.bus.PublishBatch(events)

	e.logger.Info("game created",
		zap.String("game_id", next.ID),
		zap.String("creator", creator),
		zap.Int("starting_health", next.Settings.StartingHealth))
	return e.buildView(next, creator), nil
}

// JoinGame seats a player. The game starts as soon as it is full.
func (e *Engine) JoinGame(ctx context.Context, gameID string, req JoinRequest) (*PlayerView, error) {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return nil, err
	}

	view, events, err := e.join(ctx, entry, req)
	if err != nil {
		return nil, err
	}
	e.bus.PublishBatch(events)
	return view, nil
}

func (e *Engine) join(ctx context.Context, entry *gameEntry, req JoinRequest) (*PlayerView, []rules.Event, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	before := entry.state
	if before.Status != state.StatusWaiting {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrGameNotWaiting, before.ID, before.Status)
	}
	if before.IsFull() {
		return nil, nil, fmt.Errorf("%w: %s", ErrGameFull, before.ID)
	}

	next := before.Clone()
	playerID, err := e.seat(next, req)
	if err != nil {
		return nil, nil, err
	}
	if next.IsFull() {
		started, err := e.phase.StartGame(next)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start game %s: %w", next.ID, err)
		}
		next = started
		e.logger.Info("game started", zap.String("game_id", next.ID), zap.Strings("players", next.PlayerIDs()))
	}

	events, err := e.commit(ctx, entry, before, next, playerID)
	if err != nil {
		return nil, nil, err
	}
	return e.buildView(next, playerID), events, nil
}

// seat adds a player to s and returns the assigned player id.
func (e *Engine) seat(s *state.GameState, req JoinRequest) (string, error) {
	id := req.PlayerID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.Player(id); exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyJoined, id)
	}
	if req.Faction != "" && !slices.Contains(e.catalog.Factions(), req.Faction) {
		return "", rules.Invalid(rules.CodeWrongFaction, "unknown faction %q", req.Faction)
	}

	player := state.Player{
		ID:      id,
		Name:    req.Name,
		Faction: req.Faction,
		Health:  s.Settings.StartingHealth,
		Lines:   s.Settings.StartingLines,
		Status:  state.PlayerActive,
	}
	if player.Name == "" {
		player.Name = id
	}
	if e.credentials != nil && req.Token != "" {
		hash, err := e.credentials.Hash(req.Token)
		if err != nil {
			return "", fmt.Errorf("failed to hash token for %s: %w", id, err)
		}
		player.TokenHash = hash
	}
	s.Players = append(s.Players, player)
	return id, nil
}

// SubmitAction validates and applies one action, advances the turn as far as
// readiness allows, and persists the result. It returns the submitter's view.
func (e *Engine) SubmitAction(ctx context.Context, gameID string, action PlayerAction) (*PlayerView, error) {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return nil, err
	}

	view, events, err := e.submit(ctx, entry, action)
	if err != nil {
		return nil, err
	}
	e.bus.PublishBatch(events)
	return view, nil
}

func (e *Engine) submit(ctx context.Context, entry *gameEntry, action PlayerAction) (*PlayerView, []rules.Event, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	before := entry.state
	applied, err := e.rules.Apply(before, action)
	if err != nil {
		entry.analytics.rejected.Add(1)
		e.logger.Debug("action rejected",
			zap.String("game_id", before.ID),
			zap.String("player_id", action.PlayerID),
			zap.String("action", string(action.Type)),
			zap.Error(err))
		return nil, nil, err
	}

	next, err := e.phase.Settle(applied)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to advance game %s: %w", before.ID, err)
	}

	events, err := e.commit(ctx, entry, before, next, action.PlayerID)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("action applied",
		zap.String("game_id", next.ID),
		zap.String("player_id", action.PlayerID),
		zap.String("action", string(action.Type)),
		zap.Uint64("version", next.Version),
		zap.Stringer("subphase", next.Turn.Subphase))
	return e.buildView(next, action.PlayerID), events, nil
}

// Terminate ends a running game without a winner.
func (e *Engine) Terminate(ctx context.Context, gameID, reason string) error {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return err
	}

	events, err := e.terminate(ctx, entry, reason)
	if err != nil {
		return err
	}
	e.bus.PublishBatch(events)
	return nil
}

func (e *Engine) terminate(ctx context.Context, entry *gameEntry, reason string) ([]rules.Event, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	before := entry.state
	if before.Status == state.StatusCompleted {
		return nil, &rules.FatalGameError{GameID: before.ID, Reason: "game is completed"}
	}
	next := before.Clone()
	end(next, &state.Outcome{Kind: state.OutcomeTerminated, Turn: next.Turn.Number, Reason: reason})
	return e.commit(ctx, entry, before, next, "")
}

// commit persists next, makes it current and records it. entry.mu must be held.
func (e *Engine) commit(ctx context.Context, entry *gameEntry, before, next *state.GameState, actor string) ([]rules.Event, error) {
	now := e.clock()
	next.Touch(now)

	if e.store != nil {
		if err := e.store.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to persist game %s: %w", next.ID, err)
		}
	}
	entry.state = next
	e.replays.RecordState(next.ID, next)

	events := diffEvents(before, next, actor, now)
	entry.analytics.track(events)

	if before.Status != state.StatusCompleted && next.Status == state.StatusCompleted {
		e.finish(next)
	}
	return events, nil
}

func (e *Engine) finish(s *state.GameState) {
	fields := []zap.Field{zap.String("game_id", s.ID), zap.Int("turn", s.Turn.Number)}
	if s.Outcome != nil {
		fields = append(fields,
			zap.String("outcome", string(s.Outcome.Kind)),
			zap.String("winner", s.Outcome.WinnerID))
	}
	e.logger.Info("game completed", fields...)

	e.replays.StopRecording(s.ID)
	if err := e.replays.SaveReplay(s.ID); err != nil {
		e.logger.Warn("failed to save replay", zap.String("game_id", s.ID), zap.Error(err))
	}

	// The store holds the final state; later lookups read it from there.
	if e.store != nil {
		e.mu.Lock()
		delete(e.games, s.ID)
		e.mu.Unlock()
	}
}

// lookup finds a game in memory, falling back to the store. Completed games
// loaded from the store are not cached.
func (e *Engine) lookup(ctx context.Context, gameID string) (*gameEntry, error) {
	e.mu.RLock()
	entry, ok := e.games[gameID]
	e.mu.RUnlock()
	if ok {
		return entry, nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}

	s, err := e.store.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if s.Status == state.StatusCompleted {
		return &gameEntry{state: s, analytics: newGameAnalytics(e.clock())}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.games[gameID]; ok {
		return entry, nil
	}
	entry = &gameEntry{state: s, analytics: newGameAnalytics(e.clock())}
	e.games[gameID] = entry
	e.replays.StartRecording(gameID)
	e.replays.RecordState(gameID, s)
	e.logger.Info("game restored from store", zap.String("game_id", gameID), zap.Uint64("version", s.Version))
	return entry, nil
}

// Snapshot returns a copy of the full, unredacted state. Never send it to a client.
func (e *Engine) Snapshot(ctx context.Context, gameID string) (*state.GameState, error) {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// PlayerView returns what playerID may see of the game.
func (e *Engine) PlayerView(ctx context.Context, gameID, playerID string) (*PlayerView, error) {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, ok := entry.state.Player(playerID); !ok {
		return nil, rules.Invalid(rules.CodeUnknownPlayer, "unknown player %q", playerID)
	}
	return e.buildView(entry.state, playerID), nil
}

// HasChanged reports whether the game moved past sinceVersion, and its current version.
func (e *Engine) HasChanged(ctx context.Context, gameID string, sinceVersion uint64) (bool, uint64, error) {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return false, 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Version > sinceVersion, entry.state.Version, nil
}

// Authenticate checks a player's token. Players seated without a token, or an
// engine without credentials, accept any token.
func (e *Engine) Authenticate(ctx context.Context, gameID, playerID, token string) error {
	entry, err := e.lookup(ctx, gameID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	player, ok := entry.state.Player(playerID)
	hash := ""
	if ok {
		hash = player.TokenHash
	}
	entry.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: unknown player %s", ErrUnauthenticated, playerID)
	}
	if e.credentials == nil || hash == "" {
		return nil
	}
	if err := e.credentials.Verify(hash, token); err != nil {
		return fmt.Errorf("%w: %s", ErrUnauthenticated, playerID)
	}
	return nil
}

// Analytics returns the counters of a game held in memory. With a store
// configured, completed games leave memory and report ErrGameNotFound.
func (e *Engine) Analytics(gameID string) (AnalyticsSummary, error) {
	e.mu.RLock()
	entry, ok := e.games[gameID]
	e.mu.RUnlock()
	if !ok {
		return AnalyticsSummary{}, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return entry.analytics.summary(gameID, e.clock()), nil
}

// Replay returns the recorded snapshots of a game still in memory.
func (e *Engine) Replay(gameID string) (*Replay, bool) {
	return e.replays.GetReplay(gameID)
}

// GameIDs lists the games held in memory.
func (e *Engine) GameIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.games))
	for id := range e.games {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// recordWarning counts integrity warnings against their game. It runs inside
// resolution while the game's own lock is held, so it only reads the game map.
func (e *Engine) recordWarning(w rules.IntegrityWarning) {
	e.mu.RLock()
	entry, ok := e.games[w.GameID]
	e.mu.RUnlock()
	if ok {
		entry.analytics.integrityWarnings.Add(1)
	}
}
