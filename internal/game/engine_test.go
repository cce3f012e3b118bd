package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/shipyard/shipyard-server-go/internal/game/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewEngineRequiresCatalog(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	assert.Error(t, err)
}

func TestCreateAndJoinStartsGame(t *testing.T) {
	h := newTestHarness(t)

	view, err := h.engine.CreateGame(h.ctx, CreateRequest{
		Creator: JoinRequest{PlayerID: "p1", Faction: "human", Token: "t1"},
	})
	require.NoError(t, err)
	h.gameID = view.State.ID

	s := h.snapshot()
	assert.Equal(t, state.StatusWaiting, s.Status)
	assert.Equal(t, uint64(1), s.Version)
	assert.Equal(t, "p1", s.Players[0].Name, "name defaults to the player id")
	assert.Equal(t, "hash:t1", s.Players[0].TokenHash)
	assert.Empty(t, view.State.Players[0].TokenHash, "views never carry credentials")
	assert.Equal(t, 1, h.store.saves)

	view, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p2", Faction: "human"})
	require.NoError(t, err)
	assert.Equal(t, "p2", view.ViewerID)

	s = h.snapshot()
	assert.Equal(t, state.StatusActive, s.Status)
	assert.Equal(t, uint64(2), s.Version)
	assert.Equal(t, 1, s.Turn.Number)
	assert.Equal(t, rules.SubphaseDrawing, s.Turn.Subphase)
	for _, p := range s.Players {
		assert.Equal(t, 25, p.Health)
		assert.Equal(t, 4, p.Lines)
	}
	assert.Contains(t, view.LegalActions, rules.ActionBuild)
	assert.ElementsMatch(t, []string{"p1", "p2"}, view.Pending)
	assert.NotEmpty(t, view.BuildOptions)
}

func TestCreateSeedsSettings(t *testing.T) {
	h := newTestHarness(t)
	view, err := h.engine.CreateGame(h.ctx, CreateRequest{
		Settings: state.Settings{StartingHealth: 20, StartingLines: 3},
		Creator:  JoinRequest{PlayerID: "p1"},
	})
	require.NoError(t, err)
	h.gameID = view.State.ID
	_, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p2"})
	require.NoError(t, err)

	p := h.player("p2")
	assert.Equal(t, 20, p.Health)
	assert.Equal(t, 7, p.Lines)
	assert.Equal(t, state.DefaultMaxHealth, h.snapshot().Settings.MaxHealth)
}

func TestJoinRejections(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.JoinGame(h.ctx, "missing", JoinRequest{PlayerID: "p2"})
	assert.ErrorIs(t, err, ErrGameNotFound)

	view, err := h.engine.CreateGame(h.ctx, CreateRequest{Creator: JoinRequest{PlayerID: "p1"}})
	require.NoError(t, err)
	h.gameID = view.State.ID

	_, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p1"})
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p2", Faction: "klingon"})
	requireCode(t, err, rules.CodeWrongFaction)

	_, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p2"})
	require.NoError(t, err)

	_, err = h.engine.JoinGame(h.ctx, h.gameID, JoinRequest{PlayerID: "p3"})
	assert.ErrorIs(t, err, ErrGameNotWaiting)
}

func TestFullTurnThroughEngine(t *testing.T) {
	h := newTestHarness(t)
	h.start()

	h.build("p1", "fighter")
	assert.Equal(t, 25, h.player("p2").Health, "damage waits for resolution")

	h.finishTurn()

	s := h.snapshot()
	assert.Equal(t, 2, s.Turn.Number)
	assert.Equal(t, rules.SubphaseDrawing, s.Turn.Subphase)
	assert.Equal(t, 25, h.player("p1").Health)
	assert.Equal(t, 24, h.player("p2").Health)
	assert.Equal(t, 6, h.player("p1").Lines)
	assert.Equal(t, 8, h.player("p2").Lines)
	require.Len(t, s.History, 1)
	assert.Equal(t, 1, s.History[0].Damage["p2"])
}

func TestChargeWindowsAndRedaction(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	h.build("p1", "interceptor")
	h.build("p2", "interceptor")
	h.readyAll()
	require.Equal(t, rules.SubphaseChargeDeclaration, h.snapshot().Turn.Subphase)

	p1Unit := ownedUnit(t, h.snapshot(), "p1", "interceptor")
	h.act(PlayerAction{
		Type:         rules.ActionSubmitCharges,
		PlayerID:     "p1",
		Declarations: []state.ChargeDeclaration{{UnitID: p1Unit, PowerIndex: 0}},
	})

	raw := h.snapshot()
	assert.Equal(t, 0, raw.Units[p1Unit].RemainingCharges())

	opponentView, err := h.engine.PlayerView(h.ctx, h.gameID, "p2")
	require.NoError(t, err)
	hidden := opponentView.State.Battle.Declarations["p1"]
	assert.True(t, hidden.Hidden)
	assert.Empty(t, hidden.Declarations)
	assert.Equal(t, 1, opponentView.State.Units[p1Unit].RemainingCharges(), "spent charges reveal a declaration")

	ownView, err := h.engine.PlayerView(h.ctx, h.gameID, "p1")
	require.NoError(t, err)
	assert.Len(t, ownView.State.Battle.Declarations["p1"].Declarations, 1)

	h.ready("p2")

	s := h.snapshot()
	require.Equal(t, rules.SubphaseChargeResponse, s.Turn.Subphase)
	req, _ := s.CurrentRequirement()
	assert.Equal(t, []string{"p2"}, req.Players, "p1 has no charges left to respond with")
	assert.Equal(t, 5, s.Turn.Damage["p2"])

	opponentView, err = h.engine.PlayerView(h.ctx, h.gameID, "p2")
	require.NoError(t, err)
	assert.Len(t, opponentView.State.Battle.Declarations["p1"].Declarations, 1, "revealed bundles are visible")

	p2Unit := ownedUnit(t, s, "p2", "interceptor")
	h.act(PlayerAction{
		Type:         rules.ActionSubmitCharges,
		PlayerID:     "p2",
		Declarations: []state.ChargeDeclaration{{UnitID: p2Unit, PowerIndex: 1}},
	})

	s = h.snapshot()
	assert.Equal(t, 2, s.Turn.Number)
	assert.Equal(t, 25, h.player("p2").Health)
	require.Len(t, s.History, 1)
	assert.Equal(t, 5, s.History[0].Damage["p2"])
	assert.Equal(t, 5, s.History[0].Healing["p2"])
}

func TestBuildsHiddenWhileDrawingIsOpen(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	h.build("p1", "fighter")
	h.build("p1", "fighter")
	h.finishTurn()

	s := h.snapshot()
	require.Equal(t, 2, s.Turn.Number)
	require.Equal(t, rules.SubphaseDrawing, s.Turn.Subphase)
	require.Equal(t, 4, h.player("p1").Lines)
	fighters := s.InPlayUnits("p1")
	require.Len(t, fighters, 2)

	h.build("p1", "cruiser")
	h.build("p1", "fighter")

	raw := h.snapshot()
	cruiser := ownedUnit(t, raw, "p1", "cruiser")
	assert.Equal(t, 2, h.player("p1").Lines)

	opponent, err := h.engine.PlayerView(h.ctx, h.gameID, "p2")
	require.NoError(t, err)
	assert.NotContains(t, opponent.State.Units, cruiser)
	assert.Len(t, opponent.State.Units, 2, "only last turn's fighters are visible")
	for _, u := range fighters {
		seen := opponent.State.Units[u.ID]
		require.NotNil(t, seen)
		assert.True(t, seen.InPlay(), "components consumed by a hidden upgrade stay in play")
	}
	p1, ok := opponent.State.Player("p1")
	require.True(t, ok)
	assert.Equal(t, 4, p1.Lines, "lines spent on hidden builds are refunded")

	own, err := h.engine.PlayerView(h.ctx, h.gameID, "p1")
	require.NoError(t, err)
	assert.Contains(t, own.State.Units, cruiser)
	self, _ := own.State.Player("p1")
	assert.Equal(t, 2, self.Lines)

	h.readyAll()
	revealed, err := h.engine.PlayerView(h.ctx, h.gameID, "p2")
	require.NoError(t, err)
	assert.Equal(t, 3, revealed.State.Turn.Number)
	assert.Contains(t, revealed.State.Units, cruiser)
	assert.True(t, revealed.State.Units[fighters[0].ID].ConsumedInUpgrade)
}

func TestCompletedGameRejectsEverything(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	h.act(PlayerAction{Type: rules.ActionSurrender, PlayerID: "p1"})

	done := h.snapshot()
	require.Equal(t, state.StatusCompleted, done.Status)
	assert.Equal(t, "p2", done.Outcome.WinnerID)

	for _, action := range []PlayerAction{
		{Type: rules.ActionReady, PlayerID: "p2"},
		{Type: rules.ActionBuild, PlayerID: "p2", DefinitionID: "fighter"},
		{Type: rules.ActionSurrender, PlayerID: "p2"},
		{Type: rules.ActionAcceptDraw, PlayerID: "p1"},
	} {
		err := h.try(action)
		assert.True(t, rules.IsFatalGameError(err), "%s: %v", action.Type, err)
	}
	assert.True(t, rules.IsFatalGameError(h.engine.Terminate(h.ctx, h.gameID, "admin")))
	assert.Equal(t, done, h.snapshot())
}

func TestCompletedGameLeavesMemory(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	require.Contains(t, h.engine.GameIDs(), h.gameID)

	h.act(PlayerAction{Type: rules.ActionSurrender, PlayerID: "p1"})
	assert.NotContains(t, h.engine.GameIDs(), h.gameID)

	done := h.snapshot()
	assert.Equal(t, state.StatusCompleted, done.Status)
	view, err := h.engine.PlayerView(h.ctx, h.gameID, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", view.State.Outcome.WinnerID)
	assert.True(t, rules.IsFatalGameError(h.try(PlayerAction{Type: rules.ActionReady, PlayerID: "p2"})))

	assert.NotContains(t, h.engine.GameIDs(), h.gameID, "reads of a completed game are not cached")
	_, err = h.engine.Analytics(h.gameID)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestDrawOfferExpiresWithTheTurn(t *testing.T) {
	h := newTestHarness(t)
	h.start()

	var expired []rules.Event
	h.engine.Events().SubscribeTyped(rules.EventDrawExpired, func(ev rules.Event) { expired = append(expired, ev) })

	h.act(PlayerAction{Type: rules.ActionOfferDraw, PlayerID: "p1"})
	require.NotNil(t, h.snapshot().DrawOffer)

	h.finishTurn()
	s := h.snapshot()
	require.Equal(t, 2, s.Turn.Number)
	assert.Nil(t, s.DrawOffer)
	require.Len(t, expired, 1)
	assert.Equal(t, "p1", expired[0].PlayerID)

	requireCode(t, h.try(PlayerAction{Type: rules.ActionAcceptDraw, PlayerID: "p2"}), rules.CodeNoDrawOffer)
	h.act(PlayerAction{Type: rules.ActionOfferDraw, PlayerID: "p2"})
}

func TestTerminate(t *testing.T) {
	h := newTestHarness(t)
	h.start()

	var ended []rules.Event
	h.engine.Events().SubscribeTyped(rules.EventGameTerminated, func(ev rules.Event) { ended = append(ended, ev) })

	require.NoError(t, h.engine.Terminate(h.ctx, h.gameID, "server shutdown"))

	s := h.snapshot()
	assert.Equal(t, state.StatusCompleted, s.Status)
	assert.Equal(t, state.OutcomeTerminated, s.Outcome.Kind)
	assert.Equal(t, "server shutdown", s.Outcome.Reason)
	require.Len(t, ended, 1)
	assert.Equal(t, "server shutdown", ended[0].Metadata["reason"])
}

func TestHasChanged(t *testing.T) {
	h := newTestHarness(t)
	h.start()

	changed, version, err := h.engine.HasChanged(h.ctx, h.gameID, 0)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, _, err = h.engine.HasChanged(h.ctx, h.gameID, version)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Error(t, h.try(PlayerAction{Type: rules.ActionBuild, PlayerID: "p1", DefinitionID: "flagship", ExpectedVersion: version + 1}))
	changed, _, _ = h.engine.HasChanged(h.ctx, h.gameID, version)
	assert.False(t, changed, "rejected actions do not bump the version")

	h.build("p1", "fighter")
	changed, next, err := h.engine.HasChanged(h.ctx, h.gameID, version)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, version+1, next)

	_, _, err = h.engine.HasChanged(h.ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestAuthenticate(t *testing.T) {
	h := newTestHarness(t)
	h.start()

	assert.NoError(t, h.engine.Authenticate(h.ctx, h.gameID, "p1", "t1"))
	assert.ErrorIs(t, h.engine.Authenticate(h.ctx, h.gameID, "p1", "t2"), ErrUnauthenticated)
	assert.ErrorIs(t, h.engine.Authenticate(h.ctx, h.gameID, "p9", "t1"), ErrUnauthenticated)
}

func TestGamesSurviveRestart(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	h.build("p1", "fighter")
	before := h.snapshot()

	restarted, err := NewEngine(EngineConfig{
		Catalog: testCatalog(t),
		Logger:  zaptest.NewLogger(t),
		Dice:    turn.NewScriptedDice(4),
		Store:   h.store,
	})
	require.NoError(t, err)

	s, err := restarted.Snapshot(h.ctx, h.gameID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, s.Version)
	assert.Equal(t, before.Players, s.Players)
	assert.Equal(t, before.Turn.Required, s.Turn.Required)

	_, err = restarted.SubmitAction(h.ctx, h.gameID, PlayerAction{Type: rules.ActionReady, PlayerID: "p1"})
	require.NoError(t, err)
	assert.Contains(t, restarted.GameIDs(), h.gameID)
}

func TestPersistFailureKeepsState(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	before := h.snapshot()

	h.store.fail = errors.New("disk full")
	err := h.try(PlayerAction{Type: rules.ActionBuild, PlayerID: "p1", DefinitionID: "fighter"})
	require.Error(t, err)
	assert.False(t, rules.IsValidationError(err))
	assert.Equal(t, before, h.snapshot())

	h.store.fail = nil
	h.build("p1", "fighter")
	assert.Equal(t, before.Version+1, h.snapshot().Version)
}

func TestEventsPublished(t *testing.T) {
	h := newTestHarness(t)
	var mu sync.Mutex
	seen := make(map[rules.EventType]int)
	h.engine.Events().Subscribe(func(ev rules.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.Type]++
	})

	h.start()
	h.build("p1", "fighter")
	h.finishTurn()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[rules.EventGameCreated])
	assert.Equal(t, 2, seen[rules.EventPlayerJoined])
	assert.Equal(t, 1, seen[rules.EventGameStarted])
	assert.Equal(t, 1, seen[rules.EventUnitBuilt])
	assert.Equal(t, 1, seen[rules.EventTurnResolved])
	assert.Equal(t, 2, seen[rules.EventTurnStarted])
	assert.Positive(t, seen[rules.EventPlayerReady])
	assert.Positive(t, seen[rules.EventSubphaseChanged])
	assert.Positive(t, seen[rules.EventStateChanged])
}

func TestAnalyticsAndIntegrityWarnings(t *testing.T) {
	h := newTestHarness(t)
	h.start("xenite")

	h.build("p2", "glitch")
	assert.Error(t, h.try(PlayerAction{Type: rules.ActionBuild, PlayerID: "p1", DefinitionID: "raider"}))
	h.finishTurn()

	s := h.snapshot()
	assert.Equal(t, 2, s.Turn.Number, "an unresolvable power never blocks the turn")

	summary, err := h.engine.Analytics(h.gameID)
	require.NoError(t, err)
	assert.Positive(t, summary.IntegrityWarnings)
	assert.Equal(t, int64(1), summary.Rejected)
	assert.Equal(t, int64(1), summary.UnitsBuilt)
	assert.Equal(t, int64(1), summary.TurnsResolved)
	assert.Positive(t, summary.Actions)

	_, err = h.engine.Analytics("missing")
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestConcurrentSubmissionsAreSerialized(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	start := h.snapshot().Version

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p2"} {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(playerID string) {
				defer wg.Done()
				_, err := h.engine.SubmitAction(h.ctx, h.gameID, PlayerAction{
					Type: rules.ActionBuild, PlayerID: playerID, DefinitionID: "fighter",
				})
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	s := h.snapshot()
	assert.Equal(t, start+4, s.Version)
	for _, id := range []string{"p1", "p2"} {
		assert.Equal(t, 2, s.CountInPlay(id, "fighter"))
		assert.Equal(t, 0, h.player(id).Lines)
	}
}

func TestReplayRecordsEveryCommit(t *testing.T) {
	h := newTestHarness(t)
	h.start()
	h.build("p1", "fighter")

	replay, ok := h.engine.Replay(h.gameID)
	require.True(t, ok)
	assert.Equal(t, 3, replay.Size())
	assert.Equal(t, state.StatusWaiting, replay.GetStateAt(0).Status)
	assert.Equal(t, h.snapshot().Version, replay.GetStateAt(2).Version)

	h.act(PlayerAction{Type: rules.ActionSurrender, PlayerID: "p2"})
	assert.False(t, h.engine.replays.IsRecording(h.gameID))
	assert.Equal(t, 4, replay.Size())
}

func TestReplaySavedWhenGameCompletes(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(EngineConfig{
		Catalog:   testCatalog(t),
		Logger:    zaptest.NewLogger(t),
		Dice:      turn.NewScriptedDice(4),
		ReplayDir: dir,
		Clock:     func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	require.NoError(t, err)
	h := &testHarness{t: t, ctx: context.Background(), engine: engine}
	h.start()
	h.act(PlayerAction{Type: rules.ActionSurrender, PlayerID: "p2"})

	_, inMemory := engine.Replay(h.gameID)
	assert.False(t, inMemory)

	replay, err := LoadReplayFromFile(dir, h.gameID)
	require.NoError(t, err)
	require.Equal(t, 3, replay.Size())
	last := replay.GetStateAt(2)
	assert.Equal(t, state.StatusCompleted, last.Status)
	assert.Equal(t, "p1", last.Outcome.WinnerID)
}

// TestHealthOnlyChangesAtResolution drives random action sequences and checks
// that health never moves except through a turn resolution.
func TestHealthOnlyChangesAtResolution(t *testing.T) {
	defs := []string{"fighter", "healer", "interceptor", "frigate", "carrier", "cruiser", "flagship"}

	for seed := int64(1); seed <= 6; seed++ {
		h := newTestHarness(t, 3, 5, 2, 6, 1, 4)
		h.start()
		rng := rand.New(rand.NewSource(seed))

		prev := h.snapshot()
		for step := 0; step < 400 && prev.Status == state.StatusActive; step++ {
			playerID := prev.Players[rng.Intn(2)].ID
			err := h.try(randomAction(rng, prev, playerID, defs))
			next := h.snapshot()
			if err != nil {
				require.Equal(t, prev.Version, next.Version, "seed %d step %d: rejected action changed state", seed, step)
				continue
			}

			switch len(next.History) - len(prev.History) {
			case 0:
				for i, p := range next.Players {
					require.Equal(t, prev.Players[i].Health, p.Health,
						"seed %d step %d: health of %s moved outside resolution", seed, step, p.ID)
				}
			case 1:
				last := next.History[len(next.History)-1]
				for _, p := range next.Players {
					require.Equal(t, last.Health[p.ID], p.Health)
				}
			default:
				t.Fatalf("seed %d step %d: more than one resolution in one action", seed, step)
			}
			prev = next
		}
		assert.Positive(t, len(prev.History), "seed %d never resolved a turn", seed)
	}
}

func randomAction(rng *rand.Rand, s *state.GameState, playerID string, defs []string) PlayerAction {
	action := PlayerAction{PlayerID: playerID}
	own := s.InPlayUnits(playerID)
	var theirs []*state.Unit
	if opponent, ok := s.Opponent(playerID); ok {
		theirs = s.InPlayUnits(opponent.ID)
	}

	switch roll := rng.Intn(20); {
	case roll < 9:
		action.Type = rules.ActionReady
	case roll < 13:
		action.Type = rules.ActionBuild
		action.DefinitionID = defs[rng.Intn(len(defs))]
	case roll < 16:
		action.Type = rules.ActionSubmitCharges
		if len(own) > 0 && rng.Intn(2) == 0 {
			action.Declarations = []state.ChargeDeclaration{{
				UnitID:     own[rng.Intn(len(own))].ID,
				PowerIndex: rng.Intn(2),
			}}
		}
	case roll < 18:
		action.Type = rules.ActionUsePower
		if len(own) > 0 {
			action.UnitID = own[rng.Intn(len(own))].ID
		}
		if len(theirs) > 0 {
			action.TargetUnitID = theirs[rng.Intn(len(theirs))].ID
		}
	case roll < 19:
		action.Type = rules.ActionOfferDraw
	default:
		action.Type = rules.ActionRefuseDraw
	}
	return action
}

func ownedUnit(t *testing.T, s *state.GameState, owner, def string) string {
	t.Helper()
	for _, u := range s.InPlayUnits(owner) {
		if u.DefinitionID == def {
			return u.ID
		}
	}
	t.Fatalf("%s owns no %s", owner, def)
	return ""
}
