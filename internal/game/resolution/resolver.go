// Package resolution applies a turn's accumulated effects to player health and
// decides whether the match is over.
package resolution

import (
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"go.uber.org/zap"
)

// Result summarizes one end-of-turn resolution.
type Result struct {
	Summary  state.TurnSummary
	GameOver bool
	Outcome  *state.Outcome
}

// Resolver is the only component allowed to change player health.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates an end-of-turn resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve sums the turn's effects per target, applies them at once and
// evaluates the end-of-game conditions. The input state is not modified.
func (r *Resolver) Resolve(s *state.GameState) (*state.GameState, Result) {
	next := s.Clone()

	damage := make(map[string]int, len(next.Players))
	healing := make(map[string]int, len(next.Players))
	skipped := 0
	for _, effect := range next.Turn.Effects {
		if !applies(next, effect) {
			skipped++
			continue
		}
		switch effect.Kind {
		case state.EffectDamage:
			damage[effect.TargetPlayerID] += effect.Amount
		case state.EffectHeal:
			healing[effect.TargetPlayerID] += effect.Amount
		}
	}

	health := make(map[string]int, len(next.Players))
	for i := range next.Players {
		p := &next.Players[i]
		p.Health = ApplyHealth(p.Health, damage[p.ID], healing[p.ID], next.Settings.MaxHealth)
		health[p.ID] = p.Health
	}

	next.Turn.Effects = nil
	next.Turn.Damage = make(map[string]int)
	next.Turn.Healing = make(map[string]int)

	trackProsperity(next)

	summary := state.TurnSummary{
		Turn:    next.Turn.Number,
		Damage:  damage,
		Healing: healing,
		Health:  health,
		Skipped: skipped,
	}
	next.History = append(next.History, summary)

	result := Result{Summary: summary}
	if outcome := Evaluate(next.Players, next.Turn.Number); outcome != nil {
		result.GameOver = true
		result.Outcome = outcome
	}

	r.logger.Info("turn resolved",
		zap.String("game_id", next.ID),
		zap.Int("turn", next.Turn.Number),
		zap.Any("health", health),
		zap.Int("skipped_effects", skipped),
		zap.Bool("game_over", result.GameOver))
	return next, result
}

// applies reports whether an effect still takes place. Effects whose source
// was destroyed are dropped unless they are flagged to apply regardless.
func applies(s *state.GameState, effect state.TriggeredEffect) bool {
	if effect.MustApplyIfDestroyed {
		return true
	}
	source, ok := s.Unit(effect.SourceUnitID)
	if !ok {
		return true
	}
	return !source.Destroyed
}

// ApplyHealth computes the new health total. There is a ceiling but no floor.
func ApplyHealth(current, damage, healing, max int) int {
	h := current - damage + healing
	if h > max {
		h = max
	}
	return h
}

func trackProsperity(s *state.GameState) {
	allMax := len(s.Players) > 0
	for _, p := range s.Players {
		if p.Health != s.Settings.MaxHealth {
			allMax = false
			break
		}
	}
	if allMax {
		s.Turn.ConsecutiveMaxHealthTurns++
	} else {
		s.Turn.ConsecutiveMaxHealthTurns = 0
	}
	s.Turn.DrawEligible = s.Turn.ConsecutiveMaxHealthTurns >= state.ProsperityTurns
}

// Evaluate decides the outcome from health totals. It returns nil while
// nobody is at or below zero.
func Evaluate(players []state.Player, turn int) *state.Outcome {
	var down []state.Player
	for _, p := range players {
		if p.Health <= 0 {
			down = append(down, p)
		}
	}

	switch {
	case len(down) == 0:
		return nil
	case len(down) == 1 && len(players) == 2:
		for _, p := range players {
			if p.ID != down[0].ID {
				return &state.Outcome{Kind: state.OutcomeDecisiveVictory, WinnerID: p.ID, Turn: turn}
			}
		}
	}

	if len(down) != 2 {
		return &state.Outcome{Kind: state.OutcomeDraw, Turn: turn, Reason: "unexpected player count"}
	}

	a, b := down[0], down[1]
	switch {
	case a.Health == b.Health:
		return &state.Outcome{Kind: state.OutcomeDraw, Turn: turn}
	case a.Health > b.Health:
		return &state.Outcome{Kind: state.OutcomeNarrowVictory, WinnerID: a.ID, Turn: turn}
	default:
		return &state.Outcome{Kind: state.OutcomeNarrowVictory, WinnerID: b.ID, Turn: turn}
	}
}
