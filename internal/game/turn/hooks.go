package turn

import (
	"fmt"

	"github.com/shipyard/shipyard-server-go/internal/game/battle"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/powers"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"go.uber.org/zap"
)

// enter runs the computational work of a subphase as it begins.
func (e *Engine) enter(s *state.GameState, sub rules.Subphase) {
	switch sub {
	case rules.SubphaseDiceRoll:
		s.Turn.DiceRoll = e.dice.Roll()
		e.logger.Debug("dice rolled", zap.String("game_id", s.ID), zap.Int("roll", s.Turn.DiceRoll))
	case rules.SubphaseLineGeneration:
		for i := range s.Players {
			if s.Players[i].Status == state.PlayerActive {
				s.Players[i].Lines += s.Turn.DiceRoll
			}
		}
	case rules.SubphaseLineBonus:
		e.applyLineBonus(s)
	case rules.SubphaseOnceOnly:
		e.queueTimed(s, rules.TimingOnceOnly, state.OriginOnceOnly, true, func(u *state.Unit) bool {
			return u.BuiltThisTurn
		})
	case rules.SubphaseEndOfBuild:
		e.queueTimed(s, rules.TimingEndOfBuild, state.OriginEndOfBuild, false, nil)
	case rules.SubphaseFirstStrike:
		e.queueTimed(s, rules.TimingFirstStrike, state.OriginFirstStrike, false, nil)
	case rules.SubphaseAutomaticTally:
		e.queueTimed(s, rules.TimingAutomatic, state.OriginAutomatic, false, nil)
	case rules.SubphaseChargeResponse:
		*s = *e.battle.OpenResponse(s)
	case rules.SubphaseEndOfBattle:
		e.queueTimed(s, rules.TimingEndOfBattle, state.OriginEndOfBattle, false, nil)
	}
}

// leave finishes the current subphase once its barrier has opened. Collected
// power uses apply here all at once, so the order players acted in is irrelevant.
func (e *Engine) leave(s *state.GameState) error {
	switch s.Turn.Subphase {
	case rules.SubphaseDiceManipulation:
		if len(e.usesIn(s, rules.SubphaseDiceManipulation)) > 0 {
			s.Turn.DiceRoll = e.dice.Roll()
			s.Turn.RerollRequested = true
			e.logger.Debug("dice rerolled", zap.String("game_id", s.ID), zap.Int("roll", s.Turn.DiceRoll))
		}
	case rules.SubphaseFirstStrike:
		for _, use := range e.usesIn(s, rules.SubphaseFirstStrike) {
			if target, ok := s.Unit(use.TargetUnitID); ok && target.InPlay() {
				target.Destroyed = true
			}
		}
		e.recompute(s)
	case rules.SubphaseChargeDeclaration, rules.SubphaseChargeResponse:
		window, _ := battle.WindowFor(s.Turn.Subphase)
		revealed, err := e.battle.Reveal(s, window)
		if err != nil {
			return fmt.Errorf("failed to reveal %s window: %w", window, err)
		}
		*s = *revealed
		e.recompute(s)
	}
	return nil
}

func (e *Engine) usesIn(s *state.GameState, sub rules.Subphase) []state.PowerUse {
	var uses []state.PowerUse
	for _, use := range s.PendingUses {
		if use.Subphase == sub {
			uses = append(uses, use)
		}
	}
	return uses
}

func (e *Engine) applyLineBonus(s *state.GameState) {
	for _, u := range s.InPlayUnits("") {
		def, ok := e.catalog.Definition(u.DefinitionID)
		if !ok {
			continue
		}
		for _, idx := range def.PowersWithTiming(rules.TimingLineBonus) {
			power := def.Powers[idx]
			if power.Category != catalog.CategoryExtraLines || power.Amount <= 0 {
				continue
			}
			if p, ok := s.Player(u.OwnerID); ok {
				p.Lines += power.Amount
			}
		}
	}
}

// queueTimed resolves every health-affecting power with the given timing on
// the in-play units accepted by filter and queues the resulting effects.
func (e *Engine) queueTimed(s *state.GameState, timing rules.Timing, origin state.EffectOrigin, mustApply bool, filter func(*state.Unit) bool) {
	for _, u := range s.InPlayUnits("") {
		if filter != nil && !filter(u) {
			continue
		}
		def, ok := e.catalog.Definition(u.DefinitionID)
		if !ok {
			e.logger.Warn("unit with unknown definition",
				zap.String("game_id", s.ID),
				zap.String("unit_id", u.ID),
				zap.String("definition_id", u.DefinitionID))
			continue
		}
		for _, idx := range def.PowersWithTiming(timing) {
			power := def.Powers[idx]
			if !power.AffectsHealth() {
				continue
			}
			effect := e.resolver.Resolve(power, powers.Context{
				State:                s,
				Unit:                 u,
				Definition:           def,
				Origin:               origin,
				MustApplyIfDestroyed: mustApply,
			})
			if effect != nil {
				s.QueueEffect(*effect)
			}
		}
	}
}
