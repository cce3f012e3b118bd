package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/shipyard/shipyard-server-go/internal/game/turn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.UnitDefinition{
		{ID: "fighter", Faction: "human", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryDamage, Amount: 1},
		}},
		{ID: "healer", Faction: "human", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryHeal, Amount: 1},
		}},
		{ID: "cruiser", Faction: "human", Cost: 0, Components: []string{"fighter", "fighter"}, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryDamage, Amount: 3},
		}},
		{ID: "flagship", Faction: "human", Cost: 3, MaxCount: 1},
		{ID: "dreadnought", Faction: "human", Cost: 1, MaxCount: 1, Components: []string{"flagship", "cruiser"}},
		{ID: "interceptor", Faction: "human", Cost: 2, Charges: 1, Powers: []catalog.Power{
			{ID: "strike", Timing: rules.TimingCharge, Category: catalog.CategoryDamage, Amount: 5, CostInCharges: 1},
			{ID: "repair", Timing: rules.TimingCharge, Category: catalog.CategoryHeal, Amount: 5, CostInCharges: 1},
		}},
		{ID: "carrier", Faction: "human", Cost: 3, Powers: []catalog.Power{
			{Timing: rules.TimingShipsThatBuild, Category: catalog.CategoryBuild, Builds: "fighter"},
		}},
		{ID: "frigate", Faction: "human", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingFirstStrike, Category: catalog.CategoryDestroy},
		}},
		{ID: "antlion", Faction: "xenite", Cost: 1, Powers: []catalog.Power{
			{Timing: rules.TimingDiceManipulation, Category: catalog.CategoryReroll},
		}},
		{ID: "raider", Faction: "xenite", Cost: 1, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryDamage, Amount: 1},
		}},
		{ID: "glitch", Faction: "xenite", Cost: 1, Powers: []catalog.Power{
			{ID: "mystery", Timing: rules.TimingAutomatic, Category: "mystery"},
		}},
	})
	require.NoError(t, err)
	return c
}

// memoryStore persists snapshots in their JSON form.
type memoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
	fail  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Save(_ context.Context, s *state.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	data, err := MarshalSnapshot(s)
	if err != nil {
		return err
	}
	m.data[s.ID] = data
	m.saves++
	return nil
}

func (m *memoryStore) Load(_ context.Context, gameID string) (*state.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return UnmarshalSnapshot(data)
}

// plainCredentials stands in for bcrypt in tests.
type plainCredentials struct{}

func (plainCredentials) Hash(token string) (string, error) { return "hash:" + token, nil }

func (plainCredentials) Verify(hash, token string) error {
	if hash != "hash:"+token {
		return fmt.Errorf("mismatch")
	}
	return nil
}

type testHarness struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	store  *memoryStore
	gameID string
}

func newTestHarness(t *testing.T, rolls ...int) *testHarness {
	t.Helper()
	if len(rolls) == 0 {
		rolls = []int{4}
	}
	store := newMemoryStore()
	engine, err := NewEngine(EngineConfig{
		Catalog:     testCatalog(t),
		Logger:      zaptest.NewLogger(t),
		Dice:        turn.NewScriptedDice(rolls...),
		Store:       store,
		Credentials: plainCredentials{},
		Clock:       func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	require.NoError(t, err)
	return &testHarness{t: t, ctx: context.Background(), engine: engine, store: store}
}

// start creates a game for p1 (human) and seats p2 (faction given, human by default).
func (h *testHarness) start(p2Faction ...string) {
	h.t.Helper()
	faction := "human"
	if len(p2Faction) > 0 {
		faction = p2Faction[0]
	}
	view, err := h.engine.CreateGame(h.ctx, CreateRequest{
		Creator: JoinRequest{PlayerID: "p1", Name: "Ada", Faction: "human", Token: "t1"},
	})
	require.NoError(h.t, err)
	h.gameID = view.State.ID

	_, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p2", Name: "Grace", Faction: faction, Token: "t2"})
	require.NoError(h.t, err)
}

func (h *testHarness) try(action PlayerAction) error {
	_, err := h.engine.SubmitAction(h.ctx, h.gameID, action)
	return err
}

func (h *testHarness) act(action PlayerAction) *PlayerView {
	h.t.Helper()
	view, err := h.engine.SubmitAction(h.ctx, h.gameID, action)
	require.NoError(h.t, err, "%s by %s", action.Type, action.PlayerID)
	return view
}

func (h *testHarness) ready(playerID string) {
	h.t.Helper()
	h.act(PlayerAction{Type: rules.ActionReady, PlayerID: playerID})
}

func (h *testHarness) build(playerID, def string) {
	h.t.Helper()
	h.act(PlayerAction{Type: rules.ActionBuild, PlayerID: playerID, DefinitionID: def})
}

func (h *testHarness) snapshot() *state.GameState {
	h.t.Helper()
	s, err := h.engine.Snapshot(h.ctx, h.gameID)
	require.NoError(h.t, err)
	return s
}

// readyAll readies every player still pending in the current subphase.
func (h *testHarness) readyAll() {
	h.t.Helper()
	s := h.snapshot()
	for _, id := range h.engine.phase.Readiness().Pending(s) {
		current := h.snapshot()
		if current.Turn.Subphase != s.Turn.Subphase || current.Turn.Number != s.Turn.Number {
			return
		}
		h.ready(id)
	}
}

// finishTurn readies everyone until the turn number changes or the game ends.
func (h *testHarness) finishTurn() {
	h.t.Helper()
	start := h.snapshot().Turn.Number
	for i := 0; i < 20; i++ {
		s := h.snapshot()
		if s.Turn.Number != start || s.Status != state.StatusActive {
			return
		}
		h.readyAll()
	}
	h.t.Fatalf("turn %d never finished", start)
}

func (h *testHarness) player(id string) state.Player {
	h.t.Helper()
	p, ok := h.snapshot().Player(id)
	require.True(h.t, ok, id)
	return *p
}

// activeState builds a started game directly on the phase engine, with units
// placed before turn one.
func activeState(t *testing.T, e *Engine, units map[string][]string) *state.GameState {
	t.Helper()
	s := state.New("g1", state.DefaultSettings(), time.Unix(0, 0).UTC())
	s.Players = append(s.Players,
		state.Player{ID: "p1", Faction: "human", Health: 25, Status: state.PlayerActive},
		state.Player{ID: "p2", Faction: "human", Health: 25, Status: state.PlayerActive},
	)
	for _, owner := range []string{"p1", "p2"} {
		for _, def := range units[owner] {
			d, ok := e.catalog.Definition(def)
			require.True(t, ok, def)
			s.AddUnit(owner, def, d.Charges)
		}
	}
	started, err := e.phase.StartGame(s)
	require.NoError(t, err)
	return started
}
