package turn

import (
	"testing"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/battle"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// timedDefinitions maps every conditional subphase to a ship that triggers it.
var timedDefinitions = map[rules.Subphase]string{
	rules.SubphaseDiceManipulation:  "antlion",
	rules.SubphaseLineBonus:         "commander",
	rules.SubphaseShipsThatBuild:    "carrier",
	rules.SubphaseOnceOnly:          "orbital",
	rules.SubphaseEndOfBuild:        "oxite",
	rules.SubphaseFirstStrike:       "frigate",
	rules.SubphaseChargeDeclaration: "interceptor",
	rules.SubphaseEndOfBattle:       "hive",
}

func turnCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.UnitDefinition{
		{ID: "fighter", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryDamage, Amount: 1},
		}},
		{ID: "healer", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryHeal, Amount: 1},
		}},
		{ID: "antlion", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingDiceManipulation, Category: catalog.CategoryReroll},
		}},
		{ID: "commander", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingLineBonus, Category: catalog.CategoryExtraLines, Amount: 2},
		}},
		{ID: "carrier", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingShipsThatBuild, Category: catalog.CategoryBuild, Builds: "fighter"},
		}},
		{ID: "orbital", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingOnceOnly, Category: catalog.CategoryHeal, Amount: 4},
		}},
		{ID: "oxite", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingEndOfBuild, Expression: "heal 1 per oxite"},
		}},
		{ID: "frigate", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingFirstStrike, Category: catalog.CategoryDestroy},
			{Timing: rules.TimingFirstStrike, Category: catalog.CategoryDamage, Amount: 2},
		}},
		{ID: "interceptor", Cost: 2, Charges: 1, Powers: []catalog.Power{
			{ID: "strike", Timing: rules.TimingCharge, Category: catalog.CategoryDamage, Amount: 5, CostInCharges: 1},
			{ID: "repair", Timing: rules.TimingCharge, Category: catalog.CategoryHeal, Amount: 5, CostInCharges: 1},
		}},
		{ID: "hive", Cost: 2, Powers: []catalog.Power{
			{Timing: rules.TimingEndOfBattle, Category: catalog.CategoryDamage, Amount: 2},
		}},
		{ID: "cruiser", Cost: 0, Components: []string{"fighter", "fighter"}, Powers: []catalog.Power{
			{Timing: rules.TimingAutomatic, Category: catalog.CategoryDamage, Amount: 3},
		}},
	})
	require.NoError(t, err)
	return c
}

type harness struct {
	t      *testing.T
	cat    catalog.Catalog
	engine *Engine
	state  *state.GameState
}

func newHarness(t *testing.T, rolls ...int) *harness {
	t.Helper()
	if len(rolls) == 0 {
		rolls = []int{4}
	}
	cat := turnCatalog(t)
	s := state.New("g1", state.DefaultSettings(), time.Unix(0, 0))
	s.Players = append(s.Players,
		state.Player{ID: "p1", Health: 25, Status: state.PlayerActive},
		state.Player{ID: "p2", Health: 25, Status: state.PlayerActive},
	)
	return &harness{
		t:   t,
		cat: cat,
		engine: NewEngine(Config{
			Catalog: cat,
			Dice:    NewScriptedDice(rolls...),
			Logger:  zaptest.NewLogger(t),
		}),
		state: s,
	}
}

func (h *harness) add(owner, def string) *state.Unit {
	d, ok := h.cat.Definition(def)
	require.True(h.t, ok, def)
	return h.state.AddUnit(owner, def, d.Charges)
}

func (h *harness) start() {
	h.t.Helper()
	s, err := h.engine.StartGame(h.state)
	require.NoError(h.t, err)
	h.state = s
}

func (h *harness) ready(playerID string) {
	h.t.Helper()
	s, err := h.engine.SetReady(h.state, playerID)
	require.NoError(h.t, err)
	h.settle(s)
}

func (h *harness) submit(playerID string, decls ...state.ChargeDeclaration) {
	h.t.Helper()
	window, ok := battle.WindowFor(h.state.Turn.Subphase)
	require.True(h.t, ok, "not in a commitment window: %s", h.state.Turn.Subphase)
	s, err := h.engine.Battle().Submit(h.state, playerID, window, decls)
	require.NoError(h.t, err)
	s, err = h.engine.SetReady(s, playerID)
	require.NoError(h.t, err)
	h.settle(s)
}

func (h *harness) settle(s *state.GameState) {
	h.t.Helper()
	s, err := h.engine.Settle(s)
	require.NoError(h.t, err)
	h.state = s
}

// readyAll readies every pending player of the current subphase, submitting
// empty bundles in commitment windows.
func (h *harness) readyAll() {
	h.t.Helper()
	sub, turn := h.state.Turn.Subphase, h.state.Turn.Number
	for _, id := range h.engine.Readiness().Pending(h.state) {
		if h.state.Turn.Subphase != sub || h.state.Turn.Number != turn {
			return
		}
		if rules.IsCommitmentSubphase(sub) {
			h.submit(id)
		} else {
			h.ready(id)
		}
	}
}

// advanceTo readies players until the game reaches sub (or a later turn).
func (h *harness) advanceTo(sub rules.Subphase) {
	h.t.Helper()
	turn := h.state.Turn.Number
	for i := 0; i < 20; i++ {
		if h.state.Turn.Subphase == sub && h.state.Turn.Number == turn {
			return
		}
		require.Equal(h.t, turn, h.state.Turn.Number, "turn ended before reaching %s", sub)
		h.readyAll()
	}
	h.t.Fatalf("never reached %s, stuck in %s", sub, h.state.Turn.Subphase)
}

func (h *harness) health(id string) int {
	p, _ := h.state.Player(id)
	return p.Health
}

func (h *harness) lines(id string) int {
	p, _ := h.state.Player(id)
	return p.Lines
}

func subphases(reqs []state.SubphaseRequirement) []rules.Subphase {
	subs := make([]rules.Subphase, len(reqs))
	for i, r := range reqs {
		subs[i] = r.Subphase
	}
	return subs
}
