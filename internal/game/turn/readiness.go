package turn

import (
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// ReadinessTracker is the synchronization barrier between the two players.
// A readiness record only counts for the subphase and turn it was given in.
type ReadinessTracker struct{}

// SetReady records that playerID is done with the current subphase.
func (t ReadinessTracker) SetReady(s *state.GameState, playerID string) (*state.GameState, error) {
	req, ok := s.CurrentRequirement()
	if !ok {
		return s, rules.Invalid(rules.CodeIllegalAction, "subphase %s is not running", s.Turn.Subphase)
	}
	if !req.Requires(playerID) {
		return s, rules.Invalid(rules.CodeNotRequired, "player %s has nothing to do in %s", playerID, s.Turn.Subphase)
	}
	if t.IsReady(s, playerID) {
		return s, rules.Invalid(rules.CodeAlreadyReady, "player %s is already ready for %s", playerID, s.Turn.Subphase)
	}

	next := s.Clone()
	if next.Readiness == nil {
		next.Readiness = make(map[string]state.PlayerReadiness)
	}
	next.Readiness[playerID] = state.PlayerReadiness{
		PlayerID: playerID,
		Subphase: s.Turn.Subphase,
		Turn:     s.Turn.Number,
	}
	return next, nil
}

// ClearAll drops every readiness record.
func (ReadinessTracker) ClearAll(s *state.GameState) *state.GameState {
	next := s.Clone()
	next.Readiness = make(map[string]state.PlayerReadiness)
	return next
}

// IsReady reports whether playerID holds a non-stale record for the current subphase.
func (ReadinessTracker) IsReady(s *state.GameState, playerID string) bool {
	r, ok := s.Readiness[playerID]
	if !ok {
		return false
	}
	return r.Subphase == s.Turn.Subphase && r.Turn == s.Turn.Number
}

// AllRequiredPlayersReady reports whether the barrier for the current subphase is open.
// A subphase nobody has to act in opens immediately.
func (t ReadinessTracker) AllRequiredPlayersReady(s *state.GameState) bool {
	req, ok := s.CurrentRequirement()
	if !ok {
		return true
	}
	for _, id := range req.Players {
		if !t.IsReady(s, id) {
			return false
		}
	}
	return true
}

// Pending returns the required players that are not ready yet.
func (t ReadinessTracker) Pending(s *state.GameState) []string {
	req, ok := s.CurrentRequirement()
	if !ok {
		return nil
	}
	var pending []string
	for _, id := range req.Players {
		if !t.IsReady(s, id) {
			pending = append(pending, id)
		}
	}
	return pending
}
