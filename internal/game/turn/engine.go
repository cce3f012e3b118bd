// Package turn sequences the subphases of a turn and gates every step on the
// readiness barrier.
package turn

import (
	"fmt"

	"github.com/shipyard/shipyard-server-go/internal/game/battle"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/powers"
	"github.com/shipyard/shipyard-server-go/internal/game/resolution"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"go.uber.org/zap"
)

// maxSettleSteps bounds Settle; a full turn has at most 16 transitions.
const maxSettleSteps = 64

// TransitionKind distinguishes the moves the engine can make.
type TransitionKind int

const (
	TransitionNextSubphase TransitionKind = iota
	TransitionHealthResolution
	TransitionNewTurn
	TransitionEndGame
)

var transitionNames = map[TransitionKind]string{
	TransitionNextSubphase:     "NEXT_SUBPHASE",
	TransitionHealthResolution: "HEALTH_RESOLUTION",
	TransitionNewTurn:          "NEW_TURN",
	TransitionEndGame:          "END_GAME",
}

func (k TransitionKind) String() string {
	if name, ok := transitionNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TRANSITION_%d", int(k))
}

// Transition is a single step of the turn state machine. To is the target as
// known before the current subphase's leave hook runs.
type Transition struct {
	Kind TransitionKind
	From rules.Subphase
	To   rules.Subphase
}

// Engine is the phase engine. It is stateless apart from its collaborators,
// so one instance serves every game.
type Engine struct {
	catalog   catalog.Catalog
	resolver  *powers.Resolver
	battle    *battle.Protocol
	endOfTurn *resolution.Resolver
	readiness ReadinessTracker
	dice      Dice
	logger    *zap.Logger
}

// Config carries the engine's collaborators. Nil fields get defaults.
type Config struct {
	Catalog   catalog.Catalog
	Resolver  *powers.Resolver
	Battle    *battle.Protocol
	EndOfTurn *resolution.Resolver
	Dice      Dice
	Logger    *zap.Logger
}

// NewEngine builds a phase engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		catalog:   cfg.Catalog,
		resolver:  cfg.Resolver,
		battle:    cfg.Battle,
		endOfTurn: cfg.EndOfTurn,
		dice:      cfg.Dice,
		logger:    logger,
	}
	if e.resolver == nil {
		e.resolver = powers.NewResolver(logger)
	}
	if e.battle == nil {
		e.battle = battle.NewProtocol(cfg.Catalog, e.resolver, logger)
	}
	if e.endOfTurn == nil {
		e.endOfTurn = resolution.NewResolver(logger)
	}
	if e.dice == nil {
		e.dice = NewRandomDice(0)
	}
	return e
}

// Readiness exposes the barrier.
func (e *Engine) Readiness() ReadinessTracker {
	return e.readiness
}

// Battle exposes the commitment protocol.
func (e *Engine) Battle() *battle.Protocol {
	return e.battle
}

// CurrentSubphase returns the subphase in progress.
func (e *Engine) CurrentSubphase(s *state.GameState) rules.Subphase {
	return s.Turn.Subphase
}

// IsActionLegal delegates to the legality table for the state's current position.
func (e *Engine) IsActionLegal(s *state.GameState, action rules.ActionType) bool {
	return rules.IsActionLegal(action, s.Turn.Phase, s.Turn.Subphase)
}

// StartGame begins turn one and settles the computational opening subphases.
func (e *Engine) StartGame(s *state.GameState) (*state.GameState, error) {
	next := s.Clone()
	next.Status = state.StatusActive
	next.Turn.Number = 0
	e.startTurn(next)
	return e.Settle(next)
}

// ShouldAdvance reports the next transition, if the barrier allows one.
func (e *Engine) ShouldAdvance(s *state.GameState) (Transition, bool) {
	if s.Status != state.StatusActive {
		return Transition{}, false
	}

	switch s.Turn.Phase {
	case rules.PhaseBuild, rules.PhaseBattle:
		if !e.readiness.AllRequiredPlayersReady(s) {
			return Transition{}, false
		}
		if window, ok := battle.WindowFor(s.Turn.Subphase); ok {
			req, _ := s.CurrentRequirement()
			if !e.battle.CanReveal(s, window, req.Players) {
				return Transition{}, false
			}
		}
		if to, ok := nextRequired(s); ok {
			return Transition{Kind: TransitionNextSubphase, From: s.Turn.Subphase, To: to}, true
		}
		return Transition{Kind: TransitionHealthResolution, From: s.Turn.Subphase}, true
	case rules.PhaseHealthResolution:
		if s.Outcome != nil {
			return Transition{Kind: TransitionEndGame}, true
		}
		return Transition{Kind: TransitionNewTurn, To: rules.FirstSubphase()}, true
	default:
		return Transition{}, false
	}
}

// ApplyTransition performs one transition on a copy of s.
func (e *Engine) ApplyTransition(s *state.GameState, t Transition) (*state.GameState, error) {
	if s.Status != state.StatusActive {
		return s, fmt.Errorf("game %s is not active", s.ID)
	}
	next := s.Clone()

	switch t.Kind {
	case TransitionNextSubphase, TransitionHealthResolution:
		if t.From != next.Turn.Subphase {
			return s, fmt.Errorf("transition from %s but game is in %s", t.From, next.Turn.Subphase)
		}
		if err := e.leave(next); err != nil {
			return s, err
		}
		// Leaving a subphase can change what follows it: a declaration
		// reveal inserts the response window.
		if to, ok := nextRequired(next); ok {
			e.enterSubphase(next, to)
		} else {
			e.resolveHealth(next)
		}
	case TransitionNewTurn:
		if next.Turn.Phase != rules.PhaseHealthResolution {
			return s, fmt.Errorf("new turn outside health resolution")
		}
		e.startTurn(next)
	case TransitionEndGame:
		next.Turn.Phase = rules.PhaseEndOfGame
		next.Turn.Subphase = rules.SubphaseNone
		next.Status = state.StatusCompleted
		e.logger.Info("game over", append(gameFields(next), zap.Any("outcome", next.Outcome))...)
	default:
		return s, fmt.Errorf("unknown transition %s", t.Kind)
	}
	return next, nil
}

// Settle applies transitions until the barrier blocks or the game ends.
func (e *Engine) Settle(s *state.GameState) (*state.GameState, error) {
	current := s
	for i := 0; i < maxSettleSteps; i++ {
		t, ok := e.ShouldAdvance(current)
		if !ok {
			return current, nil
		}
		next, err := e.ApplyTransition(current, t)
		if err != nil {
			return s, err
		}
		current = next
	}
	return s, fmt.Errorf("game %s did not settle after %d transitions", s.ID, maxSettleSteps)
}

// SetReady records readiness for the current subphase.
func (e *Engine) SetReady(s *state.GameState, playerID string) (*state.GameState, error) {
	return e.readiness.SetReady(s, playerID)
}

func (e *Engine) enterSubphase(s *state.GameState, sub rules.Subphase) {
	from := s.Turn.Phase
	s.Turn.Subphase = sub
	s.Turn.Phase = sub.Phase()
	if from == rules.PhaseBuild && s.Turn.Phase == rules.PhaseBattle {
		s.Battle = e.battle.Reset(s).Battle
	}
	e.logger.Debug("subphase entered", gameFields(s)...)
	e.enter(s, sub)
}

func (e *Engine) resolveHealth(s *state.GameState) {
	concluded := e.battle.Conclude(s)
	s.Battle = concluded.Battle
	s.Turn.Phase = rules.PhaseHealthResolution
	s.Turn.Subphase = rules.SubphaseNone
	s.PendingUses = nil

	resolved, result := e.endOfTurn.Resolve(s)
	*s = *resolved
	if result.GameOver {
		s.Outcome = result.Outcome
	}
}

// startTurn resets turn-scoped data and enters the first subphase.
func (e *Engine) startTurn(s *state.GameState) {
	s.Turn.Number++
	s.Turn.Phase = rules.PhaseBuild
	s.Turn.Subphase = rules.FirstSubphase()
	s.Turn.Effects = nil
	s.Turn.Damage = make(map[string]int)
	s.Turn.Healing = make(map[string]int)
	s.Turn.AnyChargeDeclared = false
	s.Turn.DiceRoll = 0
	s.Turn.RerollRequested = false
	s.Turn.StartingHealth = make(map[string]int, len(s.Players))
	for _, p := range s.Players {
		s.Turn.StartingHealth[p.ID] = p.Health
	}
	for _, u := range s.Units {
		u.BuiltThisTurn = false
	}
	s.Readiness = make(map[string]state.PlayerReadiness)
	s.PendingUses = nil
	s.DrawOffer = nil
	s.Battle = e.battle.Reset(s).Battle
	s.Turn.Required = e.RequiredSubphasesForTurn(s)

	e.logger.Info("turn started", gameFields(s)...)
	e.enter(s, s.Turn.Subphase)
}

func gameFields(s *state.GameState) []zap.Field {
	return []zap.Field{
		zap.String("game_id", s.ID),
		zap.Int("turn", s.Turn.Number),
		zap.Stringer("phase", s.Turn.Phase),
		zap.Stringer("subphase", s.Turn.Subphase),
	}
}
