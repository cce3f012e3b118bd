package turn

import (
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// CheckPowerUse validates an optional power use for the current subphase and
// returns the power being used.
func (e *Engine) CheckPowerUse(s *state.GameState, use state.PowerUse) (catalog.Power, error) {
	unit, ok := s.Unit(use.UnitID)
	if !ok || unit.OwnerID != use.PlayerID {
		return catalog.Power{}, rules.Invalid(rules.CodeInvalidUnit, "unit %s does not belong to %s", use.UnitID, use.PlayerID)
	}
	if !unit.InPlay() {
		return catalog.Power{}, rules.Invalid(rules.CodeInvalidUnit, "unit %s is not in play", use.UnitID)
	}
	def, ok := e.catalog.Definition(unit.DefinitionID)
	if !ok {
		return catalog.Power{}, rules.Invalid(rules.CodeUnknownDefinition, "unknown definition %s", unit.DefinitionID)
	}
	power, ok := def.Power(use.PowerIndex)
	if !ok {
		return catalog.Power{}, rules.Invalid(rules.CodeInvalidPower, "%s has no power at index %d", def.ID, use.PowerIndex)
	}
	timing, _ := s.Turn.Subphase.Timing()
	if power.Timing != timing {
		return catalog.Power{}, rules.Invalid(rules.CodeInvalidPower, "power %s cannot be used during %s", power.ID, s.Turn.Subphase)
	}
	if e.used(s, use) {
		return catalog.Power{}, rules.Invalid(rules.CodeInvalidPower, "power %s of %s was already used this turn", power.ID, unit.ID)
	}

	switch power.Category {
	case catalog.CategoryReroll, catalog.CategoryBuild:
	case catalog.CategoryDestroy:
		target, ok := s.Unit(use.TargetUnitID)
		if !ok || target.OwnerID == use.PlayerID || !target.InPlay() {
			return catalog.Power{}, rules.Invalid(rules.CodeInvalidTarget, "invalid destroy target %q", use.TargetUnitID)
		}
		if targetDef, ok := e.catalog.Definition(target.DefinitionID); ok && targetDef.Upgraded() {
			return catalog.Power{}, rules.Invalid(rules.CodeInvalidTarget, "upgraded ship %s cannot be destroyed this way", target.ID)
		}
	default:
		return catalog.Power{}, rules.Invalid(rules.CodeInvalidPower, "power %s is not used by choice", power.ID)
	}
	return power, nil
}

// RecordPowerUse validates and stores a power use. Rerolls and destroys take
// effect when the subphase ends; the caller performs build effects itself.
func (e *Engine) RecordPowerUse(s *state.GameState, use state.PowerUse) (*state.GameState, error) {
	use.Subphase = s.Turn.Subphase
	if _, err := e.CheckPowerUse(s, use); err != nil {
		return s, err
	}
	next := s.Clone()
	next.PendingUses = append(next.PendingUses, use)
	return next, nil
}

func (e *Engine) used(s *state.GameState, use state.PowerUse) bool {
	for _, u := range s.PendingUses {
		if u.UnitID == use.UnitID && u.PowerIndex == use.PowerIndex {
			return true
		}
	}
	return false
}
