// Package powers turns catalog power definitions into queued damage and healing.
package powers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"go.uber.org/zap"
)

// Context carries everything a power needs to resolve. State is read only.
type Context struct {
	State                *state.GameState
	Unit                 *state.Unit
	Definition           catalog.UnitDefinition
	Origin               state.EffectOrigin
	MustApplyIfDestroyed bool
	// Tag disambiguates effects of the same unit and power within one turn.
	Tag string
}

// Candidate is what a strategy decides; the resolver turns it into an effect.
type Candidate struct {
	Kind   state.EffectKind
	Amount int
	Target catalog.Target
}

// Strategy resolves a power the catalog cannot describe declaratively.
type Strategy func(power catalog.Power, ctx Context) (Candidate, error)

// WarningHandler receives every integrity warning the resolver raises.
type WarningHandler func(rules.IntegrityWarning)

// Resolver implements the four-path fallback: expression, category handler,
// registered strategy, then an integrity warning and no effect.
type Resolver struct {
	strategies map[string]Strategy
	onWarning  WarningHandler
	logger     *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies registers manual strategies keyed by power id.
func WithStrategies(strategies map[string]Strategy) Option {
	return func(r *Resolver) {
		for id, s := range strategies {
			r.strategies[id] = s
		}
	}
}

// WithWarningHandler installs a callback for integrity warnings.
func WithWarningHandler(h WarningHandler) Option {
	return func(r *Resolver) {
		r.onWarning = h
	}
}

// NewResolver builds a resolver. A nil logger disables logging.
func NewResolver(logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		strategies: make(map[string]Strategy),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var errNoMagnitude = errors.New("category has no numeric magnitude")

// Resolve returns the effect a power produces right now, or nil when it produces none.
func (r *Resolver) Resolve(power catalog.Power, ctx Context) *state.TriggeredEffect {
	if ctx.State == nil || ctx.Unit == nil {
		return nil
	}

	var failures []string

	if power.Expression != "" {
		expr, err := ParseExpression(power.Expression)
		if err == nil {
			target := expr.Target
			if target == catalog.TargetDefault {
				target = power.Target
			}
			return r.build(power, ctx, Candidate{
				Kind:   expr.Kind,
				Amount: expr.Evaluate(ctx.State, ctx.Unit.OwnerID),
				Target: target,
			})
		}
		r.logger.Debug("power expression rejected",
			zap.String("power_id", power.ID),
			zap.Error(err))
		failures = append(failures, err.Error())
	}

	if candidate, err := categoryCandidate(power); err == nil {
		return r.build(power, ctx, candidate)
	} else if power.Category != "" {
		failures = append(failures, fmt.Sprintf("category %q: %v", power.Category, err))
	}

	if strategy, ok := r.strategies[power.ID]; ok {
		candidate, err := strategy(power, ctx)
		if err == nil {
			return r.build(power, ctx, candidate)
		}
		failures = append(failures, fmt.Sprintf("strategy: %v", err))
	}

	reason := "no expression, category or strategy"
	if len(failures) > 0 {
		reason = strings.Join(failures, "; ")
	}
	r.warn(rules.IntegrityWarning{
		GameID:       ctx.State.ID,
		DefinitionID: ctx.Definition.ID,
		PowerID:      power.ID,
		Reason:       reason,
	})
	return nil
}

func categoryCandidate(power catalog.Power) (Candidate, error) {
	var kind state.EffectKind
	switch power.Category {
	case catalog.CategoryDamage:
		kind = state.EffectDamage
	case catalog.CategoryHeal:
		kind = state.EffectHeal
	default:
		return Candidate{}, fmt.Errorf("no built-in handler")
	}
	if power.Amount <= 0 {
		return Candidate{}, errNoMagnitude
	}
	return Candidate{Kind: kind, Amount: power.Amount, Target: power.Target}, nil
}

func (r *Resolver) build(power catalog.Power, ctx Context, c Candidate) *state.TriggeredEffect {
	if c.Amount <= 0 {
		return nil
	}
	if c.Kind != state.EffectDamage && c.Kind != state.EffectHeal {
		r.warn(rules.IntegrityWarning{
			GameID:       ctx.State.ID,
			DefinitionID: ctx.Definition.ID,
			PowerID:      power.ID,
			Reason:       fmt.Sprintf("unknown effect kind %q", c.Kind),
		})
		return nil
	}

	owner := ctx.Unit.OwnerID
	target, ok := targetPlayer(ctx.State, owner, c)
	if !ok {
		return nil
	}

	description := power.Description
	if description == "" {
		description = fmt.Sprintf("%s %s %d", ctx.Definition.ID, strings.ToLower(string(c.Kind)), c.Amount)
	}

	return &state.TriggeredEffect{
		ID:                   effectID(ctx, power),
		Kind:                 c.Kind,
		SourceUnitID:         ctx.Unit.ID,
		SourcePlayerID:       owner,
		TargetPlayerID:       target,
		Amount:               c.Amount,
		MustApplyIfDestroyed: ctx.MustApplyIfDestroyed,
		Origin:               ctx.Origin,
		PowerID:              power.ID,
		Description:          description,
	}
}

// targetPlayer applies the defaults: damage hits the opponent, healing the owner.
func targetPlayer(s *state.GameState, owner string, c Candidate) (string, bool) {
	target := c.Target
	if target == catalog.TargetDefault {
		if c.Kind == state.EffectDamage {
			target = catalog.TargetOpponent
		} else {
			target = catalog.TargetSelf
		}
	}
	if target == catalog.TargetSelf {
		return owner, true
	}
	opp, ok := s.Opponent(owner)
	if !ok {
		return "", false
	}
	return opp.ID, true
}

func effectID(ctx Context, power catalog.Power) string {
	id := fmt.Sprintf("t%d.%s.%s.%s", ctx.State.Turn.Number, strings.ToLower(string(ctx.Origin)), ctx.Unit.ID, power.ID)
	if ctx.Tag != "" {
		id += "." + ctx.Tag
	}
	return id
}

func (r *Resolver) warn(w rules.IntegrityWarning) {
	r.logger.Warn("unresolvable power definition",
		zap.String("game_id", w.GameID),
		zap.String("definition_id", w.DefinitionID),
		zap.String("power_id", w.PowerID),
		zap.String("reason", w.Reason))
	if r.onWarning != nil {
		r.onWarning(w)
	}
}
