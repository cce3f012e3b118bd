package state

import (
	"maps"
	"slices"
)

// Clone returns a deep copy. Engine operations mutate the clone and hand it back,
// leaving the caller's snapshot untouched.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	c := *s

	c.Players = slices.Clone(s.Players)

	if s.Units != nil {
		c.Units = make(map[string]*Unit, len(s.Units))
	}
	for id, u := range s.Units {
		cu := *u
		if u.Charges != nil {
			charges := *u.Charges
			cu.Charges = &charges
		}
		c.Units[id] = &cu
	}

	c.Turn = s.Turn.clone()
	c.Battle = s.Battle.clone()
	c.Readiness = maps.Clone(s.Readiness)
	c.PendingUses = slices.Clone(s.PendingUses)

	if s.DrawOffer != nil {
		offer := *s.DrawOffer
		c.DrawOffer = &offer
	}
	if s.Outcome != nil {
		outcome := *s.Outcome
		c.Outcome = &outcome
	}

	c.History = slices.Clone(s.History)
	for i, h := range c.History {
		c.History[i].Damage = maps.Clone(h.Damage)
		c.History[i].Healing = maps.Clone(h.Healing)
		c.History[i].Health = maps.Clone(h.Health)
	}
	return &c
}

func (t TurnData) clone() TurnData {
	c := t
	c.Required = slices.Clone(t.Required)
	for i, req := range c.Required {
		c.Required[i].Players = slices.Clone(req.Players)
	}
	c.Effects = slices.Clone(t.Effects)
	c.Damage = maps.Clone(t.Damage)
	c.Healing = maps.Clone(t.Healing)
	c.StartingHealth = maps.Clone(t.StartingHealth)
	return c
}

func (b BattleCommitmentState) clone() BattleCommitmentState {
	c := b
	c.Declarations = cloneBundles(b.Declarations)
	c.Responses = cloneBundles(b.Responses)
	return c
}

func cloneBundles(in map[string]ChargeBundle) map[string]ChargeBundle {
	out := maps.Clone(in)
	for id, bundle := range out {
		bundle.Declarations = slices.Clone(bundle.Declarations)
		out[id] = bundle
	}
	return out
}
