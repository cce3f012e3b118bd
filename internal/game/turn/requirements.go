package turn

import (
	"sort"

	"github.com/shipyard/shipyard-server-go/internal/game/battle"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// RequiredSubphasesForTurn computes, from the units currently in play, every
// subphase that runs this turn and who must act in it. Always-run subphases
// are always present; a conditional subphase is present iff some in-play unit
// carries a power with its timing.
func (e *Engine) RequiredSubphasesForTurn(s *state.GameState) []state.SubphaseRequirement {
	var required []state.SubphaseRequirement
	for _, sub := range rules.TurnSequence() {
		if sub.Always() {
			req := state.SubphaseRequirement{Subphase: sub, Always: true}
			if sub == rules.SubphaseDrawing {
				req.Players = s.ActivePlayerIDs()
			}
			required = append(required, req)
			continue
		}
		players := e.playersWithTiming(s, sub)
		// The response window runs whenever something was declared, even if
		// nobody has charges left to answer with.
		if len(players) > 0 || (sub == rules.SubphaseChargeResponse && battle.ResponseWindowRequired(s)) {
			required = append(required, state.SubphaseRequirement{Subphase: sub, Players: players})
		}
	}
	return required
}

// playersWithTiming returns, in seat order, the players owning a unit that acts in sub.
func (e *Engine) playersWithTiming(s *state.GameState, sub rules.Subphase) []string {
	timing, ok := sub.Timing()
	if !ok {
		return nil
	}
	if sub == rules.SubphaseChargeResponse && !battle.ResponseWindowRequired(s) {
		return nil
	}

	owners := make(map[string]bool)
	for _, u := range s.InPlayUnits("") {
		def, ok := e.catalog.Definition(u.DefinitionID)
		if !ok {
			continue
		}
		switch sub {
		case rules.SubphaseOnceOnly:
			if !u.BuiltThisTurn {
				continue
			}
		case rules.SubphaseChargeDeclaration, rules.SubphaseChargeResponse:
			if battle.CanDeclare(def, u) {
				owners[u.OwnerID] = true
			}
			continue
		}
		if len(def.PowersWithTiming(timing)) > 0 {
			owners[u.OwnerID] = true
		}
	}

	var players []string
	for _, id := range s.ActivePlayerIDs() {
		if owners[id] {
			players = append(players, id)
		}
	}
	return players
}

// Recompute refreshes the current turn's requirements after units changed.
// Subphases already passed and the current one are kept as they were, so the
// list can only grow for the part of the turn that has run.
func (e *Engine) Recompute(s *state.GameState) *state.GameState {
	next := s.Clone()
	e.recompute(next)
	return next
}

func (e *Engine) recompute(s *state.GameState) {
	current := s.Turn.Subphase
	fresh := e.RequiredSubphasesForTurn(s)

	merged := make([]state.SubphaseRequirement, 0, len(fresh)+1)
	for _, req := range s.Turn.Required {
		if req.Subphase.Before(current) || req.Subphase == current {
			merged = append(merged, req)
		}
	}
	for _, req := range fresh {
		if current.Before(req.Subphase) {
			merged = append(merged, req)
		}
	}
	if _, kept := s.Turn.Requirement(current); !kept {
		for _, req := range fresh {
			if req.Subphase == current {
				merged = append(merged, req)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Subphase.Before(merged[j].Subphase)
	})

	before := len(s.Turn.Required)
	s.Turn.Required = merged
	if len(merged) > before {
		e.logger.Debug("turn requirements grew", gameFields(s)...)
	}
}

// nextRequired returns the first required subphase after the current one.
func nextRequired(s *state.GameState) (rules.Subphase, bool) {
	for _, req := range s.Turn.Required {
		if s.Turn.Subphase.Before(req.Subphase) {
			return req.Subphase, true
		}
	}
	return rules.SubphaseNone, false
}
