package game

import (
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// PlayerView is what one player may see of a match. Every transport path sends
// this shape and never a raw snapshot.
type PlayerView struct {
	ViewerID     string             `json:"viewer_id"`
	State        *state.GameState   `json:"state"`
	Pending      []string           `json:"pending"`
	Ready        bool               `json:"ready"`
	LegalActions []rules.ActionType `json:"legal_actions"`
	BuildOptions []BuildOption      `json:"build_options,omitempty"`
}

// RedactState copies s with everything viewer must not see removed: credential
// hashes, the opponent's ships built while building is still open, the
// opponent's unrevealed charge bundles, and the opponent's power uses still
// waiting on the barrier. Charges and lines paid for hidden moves are handed
// back so they cannot be inferred.
func RedactState(s *state.GameState, viewer string, cat catalog.Catalog) *state.GameState {
	v := s.Clone()
	for i := range v.Players {
		v.Players[i].TokenHash = ""
	}

	if s.Status == state.StatusActive && rules.IsBuildingSubphase(v.Turn.Subphase) {
		hideBuilds(v, viewer)
	}

	for _, window := range []state.Window{state.WindowDeclaration, state.WindowResponse} {
		if v.Battle.Revealed(window) {
			continue
		}
		bundles := v.Battle.Bundles(window)
		for playerID, bundle := range bundles {
			if playerID == viewer {
				continue
			}
			restoreHidden(v, bundle, cat)
			bundles[playerID] = state.ChargeBundle{PlayerID: playerID, Hidden: true}
		}
	}

	if len(v.PendingUses) > 0 {
		visible := v.PendingUses[:0]
		for _, use := range v.PendingUses {
			if use.PlayerID == viewer {
				visible = append(visible, use)
			}
		}
		v.PendingUses = visible
	}
	return v
}

// hideBuilds removes the opponent's ships built this turn. Components they
// consumed reappear and the lines they cost are refunded.
func hideBuilds(v *state.GameState, viewer string) {
	hidden := make(map[string]bool)
	for id, u := range v.Units {
		if u.OwnerID == viewer || !u.BuiltThisTurn {
			continue
		}
		hidden[id] = true
		if p, ok := v.Player(u.OwnerID); ok {
			p.Lines += u.LinesPaid
		}
	}
	if len(hidden) == 0 {
		return
	}
	for id := range hidden {
		delete(v.Units, id)
	}
	for _, u := range v.Units {
		if u.ConsumedInUpgrade && hidden[u.ConsumedBy] {
			u.ConsumedInUpgrade = false
			u.ConsumedBy = ""
		}
	}
}

func restoreHidden(v *state.GameState, bundle state.ChargeBundle, cat catalog.Catalog) {
	if p, ok := v.Player(bundle.PlayerID); ok {
		p.Lines += bundle.EnergySpent
	}
	for _, decl := range bundle.Declarations {
		unit, ok := v.Unit(decl.UnitID)
		if !ok || unit.Charges == nil {
			continue
		}
		def, ok := cat.Definition(unit.DefinitionID)
		if !ok {
			continue
		}
		if power, ok := def.Power(decl.PowerIndex); ok {
			*unit.Charges += power.CostInCharges
		}
	}
}

// buildView assembles the player view for viewer.
func (e *Engine) buildView(s *state.GameState, viewer string) *PlayerView {
	view := &PlayerView{
		ViewerID: viewer,
		State:    RedactState(s, viewer, e.catalog),
		Ready:    e.phase.Readiness().IsReady(s, viewer),
	}
	if s.Status != state.StatusActive {
		return view
	}
	view.Pending = e.phase.Readiness().Pending(s)
	for _, action := range rules.AllActionTypes() {
		if e.phase.IsActionLegal(s, action) {
			view.LegalActions = append(view.LegalActions, action)
		}
	}
	if rules.IsBuildingSubphase(s.Turn.Subphase) {
		view.BuildOptions = e.rules.BuildOptions(s, viewer)
	}
	return view
}
