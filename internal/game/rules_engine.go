package game

import (
	"fmt"

	"github.com/shipyard/shipyard-server-go/internal/game/battle"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/shipyard/shipyard-server-go/internal/game/turn"
	"go.uber.org/zap"
)

// RulesEngine validates player actions and applies accepted ones. It never
// advances the turn; the caller settles the phase engine afterwards.
type RulesEngine struct {
	catalog catalog.Catalog
	phase   *turn.Engine
	logger  *zap.Logger
}

// NewRulesEngine creates a rules engine over the phase engine's catalog.
func NewRulesEngine(cat catalog.Catalog, phase *turn.Engine, logger *zap.Logger) *RulesEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulesEngine{catalog: cat, phase: phase, logger: logger}
}

// BuildOption is the authoritative build eligibility of one definition.
type BuildOption struct {
	DefinitionID string `json:"definition_id"`
	Cost         int    `json:"cost"`
	Eligible     bool   `json:"eligible"`
	Code         string `json:"code,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Validate reports whether the action would be accepted, without changing s.
func (r *RulesEngine) Validate(s *state.GameState, action PlayerAction) error {
	_, err := r.Apply(s, action)
	return err
}

// Apply validates the action and returns the resulting state. On error s is
// returned unchanged.
func (r *RulesEngine) Apply(s *state.GameState, action PlayerAction) (*state.GameState, error) {
	if s.Status == state.StatusCompleted {
		return s, &rules.FatalGameError{GameID: s.ID, Reason: "game is completed"}
	}
	if s.Status != state.StatusActive {
		return s, rules.Invalid(rules.CodeGameNotActive, "game %s is %s", s.ID, s.Status)
	}
	if action.ExpectedVersion != 0 && action.ExpectedVersion != s.Version {
		return s, rules.Invalid(rules.CodeStaleVersion, "expected version %d, game is at %d", action.ExpectedVersion, s.Version)
	}
	player, ok := s.Player(action.PlayerID)
	if !ok {
		return s, rules.Invalid(rules.CodeUnknownPlayer, "unknown player %q", action.PlayerID)
	}
	if player.Status != state.PlayerActive {
		return s, rules.Invalid(rules.CodeIllegalAction, "player %s is %s", player.ID, player.Status)
	}
	if !r.phase.IsActionLegal(s, action.Type) {
		return s, rules.Invalid(rules.CodeIllegalAction, "%s is not allowed during %s/%s",
			action.Type, s.Turn.Phase, s.Turn.Subphase)
	}

	switch action.Type {
	case rules.ActionReady:
		return r.applyReady(s, action.PlayerID)
	case rules.ActionSubmitCharges:
		return r.applySubmit(s, action.PlayerID, action.Declarations)
	case rules.ActionBuild:
		return r.applyBuild(s, action.PlayerID, action.DefinitionID)
	case rules.ActionUsePower:
		return r.applyUsePower(s, state.PowerUse{
			PlayerID:     action.PlayerID,
			UnitID:       action.UnitID,
			PowerIndex:   action.PowerIndex,
			TargetUnitID: action.TargetUnitID,
		})
	case rules.ActionSurrender:
		return r.applySurrender(s, action.PlayerID)
	case rules.ActionOfferDraw:
		return r.applyOfferDraw(s, action.PlayerID)
	case rules.ActionAcceptDraw:
		return r.applyAcceptDraw(s, action.PlayerID)
	case rules.ActionRefuseDraw:
		return r.applyRefuseDraw(s, action.PlayerID)
	default:
		return s, rules.Invalid(rules.CodeMalformedAction, "unknown action type %q", action.Type)
	}
}

// applyReady marks the player done. In a commitment window a player who has
// not submitted commits an empty bundle first.
func (r *RulesEngine) applyReady(s *state.GameState, playerID string) (*state.GameState, error) {
	next := s
	if window, ok := battle.WindowFor(s.Turn.Subphase); ok && !s.Battle.HasSubmitted(window, playerID) {
		if err := r.checkRequired(s, playerID); err != nil {
			return s, err
		}
		submitted, err := r.phase.Battle().Submit(s, playerID, window, nil)
		if err != nil {
			return s, err
		}
		next = submitted
	}
	ready, err := r.phase.SetReady(next, playerID)
	if err != nil {
		return s, err
	}
	return ready, nil
}

func (r *RulesEngine) applySubmit(s *state.GameState, playerID string, decls []state.ChargeDeclaration) (*state.GameState, error) {
	window, ok := battle.WindowFor(s.Turn.Subphase)
	if !ok {
		return s, rules.Invalid(rules.CodeWindowClosed, "no commitment window during %s", s.Turn.Subphase)
	}
	if err := r.checkRequired(s, playerID); err != nil {
		return s, err
	}
	submitted, err := r.phase.Battle().Submit(s, playerID, window, decls)
	if err != nil {
		return s, err
	}
	ready, err := r.phase.SetReady(submitted, playerID)
	if err != nil {
		return s, err
	}
	return ready, nil
}

func (r *RulesEngine) checkRequired(s *state.GameState, playerID string) error {
	req, ok := s.CurrentRequirement()
	if !ok || !req.Requires(playerID) {
		return rules.Invalid(rules.CodeNotRequired, "player %s has nothing to do in %s", playerID, s.Turn.Subphase)
	}
	return nil
}

// CheckBuild re-derives whether playerID may build definitionID right now.
// Conditions are checked in a fixed order: unknown definition, faction, ship
// limits, missing components, then lines.
func (r *RulesEngine) CheckBuild(s *state.GameState, playerID, definitionID string) (catalog.UnitDefinition, []string, error) {
	def, ok := r.catalog.Definition(definitionID)
	if !ok {
		return def, nil, rules.Invalid(rules.CodeUnknownDefinition, "unknown ship %q", definitionID)
	}
	player, ok := s.Player(playerID)
	if !ok {
		return def, nil, rules.Invalid(rules.CodeUnknownPlayer, "unknown player %q", playerID)
	}
	if def.Faction != "" && player.Faction != "" && def.Faction != player.Faction {
		return def, nil, rules.Invalid(rules.CodeWrongFaction, "%s belongs to %s, player is %s", def.ID, def.Faction, player.Faction)
	}
	if err := r.checkLimits(s, playerID, def, len(def.Components)); err != nil {
		return def, nil, err
	}
	components, err := pickComponents(s, playerID, def)
	if err != nil {
		return def, nil, err
	}
	if def.Cost > player.Lines {
		return def, nil, rules.Invalid(rules.CodeInsufficientLines, "%s costs %d lines, %d available", def.ID, def.Cost, player.Lines)
	}
	return def, components, nil
}

// checkLimits enforces the per-definition max_count and the per-player fleet
// size. consumed is the number of units the build removes from play.
func (r *RulesEngine) checkLimits(s *state.GameState, playerID string, def catalog.UnitDefinition, consumed int) error {
	if def.MaxCount > 0 && s.CountInPlay(playerID, def.ID) >= def.MaxCount {
		return rules.Invalid(rules.CodeMaxShips, "at most %d %s in play", def.MaxCount, def.ID)
	}
	if len(s.InPlayUnits(playerID))-consumed >= s.Settings.MaxUnits {
		return rules.Invalid(rules.CodeMaxShips, "fleet is at the %d ship limit", s.Settings.MaxUnits)
	}
	return nil
}

// pickComponents selects, oldest first, the in-play units an upgrade consumes.
func pickComponents(s *state.GameState, playerID string, def catalog.UnitDefinition) ([]string, error) {
	if !def.Upgraded() {
		return nil, nil
	}
	taken := make(map[string]bool, len(def.Components))
	picked := make([]string, 0, len(def.Components))
	for _, component := range def.Components {
		found := ""
		for _, id := range s.UnitIDs() {
			u := s.Units[id]
			if taken[id] || u.OwnerID != playerID || !u.InPlay() || u.DefinitionID != component {
				continue
			}
			found = id
			break
		}
		if found == "" {
			return nil, rules.Invalid(rules.CodeMissingComponents, "%s needs %v", def.ID, def.Components)
		}
		taken[found] = true
		picked = append(picked, found)
	}
	return picked, nil
}

func (r *RulesEngine) applyBuild(s *state.GameState, playerID, definitionID string) (*state.GameState, error) {
	def, components, err := r.CheckBuild(s, playerID, definitionID)
	if err != nil {
		return s, err
	}

	next := s.Clone()
	player, _ := next.Player(playerID)
	player.Lines -= def.Cost
	unit := next.AddUnit(playerID, def.ID, def.Charges)
	unit.LinesPaid = def.Cost
	for _, id := range components {
		next.Units[id].ConsumedInUpgrade = true
		next.Units[id].ConsumedBy = unit.ID
	}

	r.logger.Debug("ship built",
		zap.String("game_id", s.ID),
		zap.String("player_id", playerID),
		zap.String("unit_id", unit.ID),
		zap.String("definition_id", def.ID),
		zap.Strings("consumed", components))
	return r.phase.Recompute(next), nil
}

// applyUsePower handles optional powers. Free builds happen immediately;
// rerolls and destroys are collected until the subphase ends.
func (r *RulesEngine) applyUsePower(s *state.GameState, use state.PowerUse) (*state.GameState, error) {
	power, err := r.phase.CheckPowerUse(s, use)
	if err != nil {
		return s, err
	}
	if power.Category != catalog.CategoryBuild {
		return r.phase.RecordPowerUse(s, use)
	}

	def, ok := r.catalog.Definition(power.Builds)
	if !ok {
		return s, rules.Invalid(rules.CodeUnknownDefinition, "power %s builds unknown ship %q", power.ID, power.Builds)
	}
	if err := r.checkLimits(s, use.PlayerID, def, 0); err != nil {
		return s, err
	}
	recorded, err := r.phase.RecordPowerUse(s, use)
	if err != nil {
		return s, err
	}
	unit := recorded.AddUnit(use.PlayerID, def.ID, def.Charges)
	r.logger.Debug("free ship built",
		zap.String("game_id", s.ID),
		zap.String("player_id", use.PlayerID),
		zap.String("source_unit_id", use.UnitID),
		zap.String("unit_id", unit.ID))
	return r.phase.Recompute(recorded), nil
}

func (r *RulesEngine) applySurrender(s *state.GameState, playerID string) (*state.GameState, error) {
	next := s.Clone()
	player, _ := next.Player(playerID)
	player.Status = state.PlayerSurrendered
	winner := ""
	if opponent, ok := next.Opponent(playerID); ok {
		winner = opponent.ID
	}
	end(next, &state.Outcome{
		Kind:     state.OutcomeSurrender,
		WinnerID: winner,
		Turn:     next.Turn.Number,
		Reason:   fmt.Sprintf("%s surrendered", playerID),
	})
	return next, nil
}

func (r *RulesEngine) applyOfferDraw(s *state.GameState, playerID string) (*state.GameState, error) {
	if s.DrawOffer != nil {
		return s, rules.Invalid(rules.CodeIllegalAction, "a draw offer by %s is already pending", s.DrawOffer.OfferedBy)
	}
	next := s.Clone()
	next.DrawOffer = &state.DrawOffer{OfferedBy: playerID, Turn: s.Turn.Number}
	return next, nil
}

// applyAcceptDraw ends the game. An offer accepted while both fleets have sat
// at maximum health long enough is recorded as a mutual prosperity draw.
func (r *RulesEngine) applyAcceptDraw(s *state.GameState, playerID string) (*state.GameState, error) {
	if s.DrawOffer == nil || s.DrawOffer.OfferedBy == playerID {
		return s, rules.Invalid(rules.CodeNoDrawOffer, "no draw offer from the opponent")
	}
	next := s.Clone()
	outcome := &state.Outcome{Kind: state.OutcomeAgreedDraw, Turn: next.Turn.Number, Reason: "draw agreed"}
	if next.Turn.DrawEligible {
		outcome.Kind = state.OutcomeProsperityDraw
		outcome.Reason = "mutual prosperity"
	}
	next.DrawOffer = nil
	end(next, outcome)
	return next, nil
}

func (r *RulesEngine) applyRefuseDraw(s *state.GameState, playerID string) (*state.GameState, error) {
	if s.DrawOffer == nil || s.DrawOffer.OfferedBy == playerID {
		return s, rules.Invalid(rules.CodeNoDrawOffer, "no draw offer from the opponent")
	}
	next := s.Clone()
	next.DrawOffer = nil
	return next, nil
}

// BuildOptions lists every definition with its current eligibility for playerID.
func (r *RulesEngine) BuildOptions(s *state.GameState, playerID string) []BuildOption {
	defs := r.catalog.Definitions()
	options := make([]BuildOption, 0, len(defs))
	for _, def := range defs {
		opt := BuildOption{DefinitionID: def.ID, Cost: def.Cost, Eligible: true}
		if _, _, err := r.CheckBuild(s, playerID, def.ID); err != nil {
			opt.Eligible = false
			if verr, ok := err.(*rules.ValidationError); ok {
				opt.Code, opt.Reason = verr.Code, verr.Reason
			}
		}
		options = append(options, opt)
	}
	return options
}

// end completes the game with outcome.
func end(s *state.GameState, outcome *state.Outcome) {
	s.Outcome = outcome
	s.Status = state.StatusCompleted
	s.Turn.Phase = rules.PhaseEndOfGame
	s.Turn.Subphase = rules.SubphaseNone
}
