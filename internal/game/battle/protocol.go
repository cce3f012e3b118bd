// Package battle implements the two-window hidden commit/reveal exchange of
// charge powers during the battle phase.
package battle

import (
	"fmt"
	"sort"

	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/powers"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"go.uber.org/zap"
)

// Protocol validates charge bundles, keeps them hidden until reveal and turns
// revealed declarations into queued effects.
type Protocol struct {
	catalog  catalog.Catalog
	resolver *powers.Resolver
	logger   *zap.Logger
}

// NewProtocol wires the protocol to its collaborators.
func NewProtocol(cat catalog.Catalog, resolver *powers.Resolver, logger *zap.Logger) *Protocol {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = powers.NewResolver(logger)
	}
	return &Protocol{catalog: cat, resolver: resolver, logger: logger}
}

// WindowFor maps a commitment subphase to its window.
func WindowFor(sub rules.Subphase) (state.Window, bool) {
	switch sub {
	case rules.SubphaseChargeDeclaration:
		return state.WindowDeclaration, true
	case rules.SubphaseChargeResponse:
		return state.WindowResponse, true
	default:
		return "", false
	}
}

// Reset clears both windows. Called whenever a battle phase begins.
func (p *Protocol) Reset(s *state.GameState) *state.GameState {
	next := s.Clone()
	next.Battle = state.NewBattleCommitmentState()
	return next
}

// Submit stores a player's hidden bundle for a window. Every declaration is
// validated and paid for here: charges and energy are deducted on acceptance.
// On error the input state is returned unchanged.
func (p *Protocol) Submit(s *state.GameState, playerID string, window state.Window, decls []state.ChargeDeclaration) (*state.GameState, error) {
	if !window.Valid() {
		return s, rules.Invalid(rules.CodeMalformedAction, "unknown window %q", window)
	}
	if err := p.checkWindowOpen(s, window); err != nil {
		return s, err
	}
	if s.Battle.HasSubmitted(window, playerID) {
		return s, rules.Invalid(rules.CodeAlreadySubmitted, "already submitted for the %s window", window)
	}
	player, ok := s.Player(playerID)
	if !ok {
		return s, rules.Invalid(rules.CodeUnknownPlayer, "unknown player %s", playerID)
	}

	next := s.Clone()
	energy := 0
	for i, decl := range decls {
		cost, err := p.accept(next, playerID, decl)
		if err != nil {
			return s, fmt.Errorf("declaration %d: %w", i, err)
		}
		energy += cost
	}
	if energy > player.Lines {
		return s, rules.Invalid(rules.CodeInsufficientLines, "declarations cost %d lines, %d available", energy, player.Lines)
	}
	nextPlayer, _ := next.Player(playerID)
	nextPlayer.Lines -= energy

	next.Battle.Bundles(window)[playerID] = state.ChargeBundle{
		PlayerID:     playerID,
		Declarations: append([]state.ChargeDeclaration(nil), decls...),
		EnergySpent:  energy,
	}

	p.logger.Debug("charge bundle accepted",
		zap.String("game_id", s.ID),
		zap.String("player_id", playerID),
		zap.String("window", string(window)),
		zap.Int("declarations", len(decls)))
	return next, nil
}

func (p *Protocol) checkWindowOpen(s *state.GameState, window state.Window) error {
	b := &s.Battle
	switch window {
	case state.WindowDeclaration:
		if b.Stage != state.StageAwaitingDeclaration || b.DeclarationRevealed {
			return rules.Invalid(rules.CodeWindowClosed, "declaration window is closed")
		}
	case state.WindowResponse:
		if b.Stage != state.StageAwaitingResponse || !b.DeclarationRevealed || b.ResponseRevealed {
			return rules.Invalid(rules.CodeWindowClosed, "response window is not open")
		}
	}
	return nil
}

// accept validates one declaration against next and deducts its charges.
// It returns the declaration's energy cost.
func (p *Protocol) accept(next *state.GameState, playerID string, decl state.ChargeDeclaration) (int, error) {
	unit, ok := next.Unit(decl.UnitID)
	if !ok || unit.OwnerID != playerID {
		return 0, rules.Invalid(rules.CodeInvalidUnit, "unit %s does not belong to %s", decl.UnitID, playerID)
	}
	if !unit.InPlay() {
		return 0, rules.Invalid(rules.CodeInvalidUnit, "unit %s is not in play", decl.UnitID)
	}
	def, ok := p.catalog.Definition(unit.DefinitionID)
	if !ok {
		return 0, rules.Invalid(rules.CodeUnknownDefinition, "unit %s has unknown definition %s", unit.ID, unit.DefinitionID)
	}
	power, ok := def.Power(decl.PowerIndex)
	if !ok || !power.IsCharge() {
		return 0, rules.Invalid(rules.CodeInvalidPower, "%s has no charge power at index %d", def.ID, decl.PowerIndex)
	}
	if unit.RemainingCharges() < power.CostInCharges {
		return 0, rules.Invalid(rules.CodeInsufficientCharge, "unit %s has %d charges, %s costs %d",
			unit.ID, unit.RemainingCharges(), power.ID, power.CostInCharges)
	}
	if power.Category == catalog.CategoryDestroy {
		if err := checkDestroyTarget(next, playerID, decl.TargetUnitID); err != nil {
			return 0, err
		}
	}

	*unit.Charges -= power.CostInCharges
	return power.CostInEnergy, nil
}

func checkDestroyTarget(s *state.GameState, playerID, targetID string) error {
	target, ok := s.Unit(targetID)
	if !ok {
		return rules.Invalid(rules.CodeInvalidTarget, "unknown target unit %q", targetID)
	}
	if target.OwnerID == playerID {
		return rules.Invalid(rules.CodeInvalidTarget, "cannot destroy your own unit %s", targetID)
	}
	if !target.InPlay() {
		return rules.Invalid(rules.CodeInvalidTarget, "target unit %s is not in play", targetID)
	}
	return nil
}

// CanReveal reports whether every required player has submitted for the window.
func (p *Protocol) CanReveal(s *state.GameState, window state.Window, required []string) bool {
	if s.Battle.Revealed(window) {
		return false
	}
	for _, id := range required {
		if !s.Battle.HasSubmitted(window, id) {
			return false
		}
	}
	return true
}

// Reveal makes a window observable and converts its declarations into effects.
// Destroy charges resolve together, so submission order never matters.
func (p *Protocol) Reveal(s *state.GameState, window state.Window) (*state.GameState, error) {
	if !window.Valid() {
		return s, fmt.Errorf("unknown window %q", window)
	}
	if s.Battle.Revealed(window) {
		return s, fmt.Errorf("%s window already revealed", window)
	}
	if window == state.WindowResponse && !s.Battle.DeclarationRevealed {
		return s, fmt.Errorf("response window revealed before declarations")
	}

	next := s.Clone()
	bundles := next.Battle.Bundles(window)

	playerIDs := make([]string, 0, len(bundles))
	for id := range bundles {
		playerIDs = append(playerIDs, id)
	}
	sort.Strings(playerIDs)

	declared := false
	var destroyed []string
	for _, playerID := range playerIDs {
		bundle := bundles[playerID]
		for i, decl := range bundle.Declarations {
			declared = true
			unit, ok := next.Unit(decl.UnitID)
			if !ok {
				continue
			}
			def, ok := p.catalog.Definition(unit.DefinitionID)
			if !ok {
				continue
			}
			power, ok := def.Power(decl.PowerIndex)
			if !ok {
				continue
			}
			if power.Category == catalog.CategoryDestroy {
				destroyed = append(destroyed, decl.TargetUnitID)
				continue
			}
			effect := p.resolver.Resolve(power, powers.Context{
				State:                next,
				Unit:                 unit,
				Definition:           def,
				Origin:               state.OriginCharge,
				MustApplyIfDestroyed: true,
				Tag:                  fmt.Sprintf("%s%d", windowTag(window), i),
			})
			if effect != nil {
				next.QueueEffect(*effect)
			}
		}
	}

	for _, id := range destroyed {
		if u, ok := next.Unit(id); ok {
			u.Destroyed = true
		}
	}

	switch window {
	case state.WindowDeclaration:
		next.Battle.DeclarationRevealed = true
		next.Battle.AnyDeclarationsMade = declared
		next.Turn.AnyChargeDeclared = declared
		next.Battle.Stage = state.StageDeclarationRevealed
	case state.WindowResponse:
		next.Battle.ResponseRevealed = true
		next.Battle.Stage = state.StageResponseRevealed
	}

	p.logger.Debug("commitment window revealed",
		zap.String("game_id", s.ID),
		zap.String("window", string(window)),
		zap.Bool("declared", declared),
		zap.Int("destroyed", len(destroyed)))
	return next, nil
}

// OpenResponse moves a revealed exchange into the response window. It is a
// no-op unless declarations were revealed and at least one was made.
func (p *Protocol) OpenResponse(s *state.GameState) *state.GameState {
	if s.Battle.Stage != state.StageDeclarationRevealed || !ResponseWindowRequired(s) {
		return s
	}
	next := s.Clone()
	next.Battle.Stage = state.StageAwaitingResponse
	return next
}

// ResponseWindowRequired reports whether the response window must run.
func ResponseWindowRequired(s *state.GameState) bool {
	return s.Battle.DeclarationRevealed && s.Battle.AnyDeclarationsMade && !s.Battle.ResponseRevealed
}

// Conclude marks the exchange finished before the end-of-turn handoff.
func (p *Protocol) Conclude(s *state.GameState) *state.GameState {
	next := s.Clone()
	next.Battle.Stage = state.StageResolved
	return next
}

// CanDeclare reports whether a unit still has a charge power it can afford.
func CanDeclare(def catalog.UnitDefinition, unit *state.Unit) bool {
	if !unit.InPlay() || unit.Charges == nil {
		return false
	}
	for _, power := range def.Powers {
		if power.IsCharge() && unit.RemainingCharges() >= power.CostInCharges {
			return true
		}
	}
	return false
}

func windowTag(w state.Window) string {
	if w == state.WindowDeclaration {
		return "d"
	}
	return "r"
}
