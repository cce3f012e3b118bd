package powers

import (
	"fmt"

	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// judgementCap bounds the arbiter's damage.
const judgementCap = 5

// DefaultStrategies returns the strategies for powers in the bundled catalog
// that have no declarative form.
func DefaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		"arbiter-judgement": judgement,
	}
}

// judgement deals one damage per opposing ship in play, capped.
func judgement(_ catalog.Power, ctx Context) (Candidate, error) {
	opp, ok := ctx.State.Opponent(ctx.Unit.OwnerID)
	if !ok {
		return Candidate{}, fmt.Errorf("owner %s has no opponent", ctx.Unit.OwnerID)
	}
	amount := len(ctx.State.InPlayUnits(opp.ID))
	if amount > judgementCap {
		amount = judgementCap
	}
	return Candidate{Kind: state.EffectDamage, Amount: amount, Target: catalog.TargetOpponent}, nil
}
