// Package state holds the serializable snapshot of one match. Every engine
// operation receives a snapshot and returns a new one; nothing here is shared
// between goroutines.
package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/rules"
)

// GameStatus is the lifecycle status of a match.
type GameStatus string

const (
	StatusWaiting   GameStatus = "WAITING"
	StatusActive    GameStatus = "ACTIVE"
	StatusCompleted GameStatus = "COMPLETED"
)

// PlayerStatus tracks whether a player is still contesting the match.
type PlayerStatus string

const (
	PlayerActive      PlayerStatus = "ACTIVE"
	PlayerSurrendered PlayerStatus = "SURRENDERED"
)

// OutcomeKind classifies how a match ended.
type OutcomeKind string

const (
	OutcomeDecisiveVictory OutcomeKind = "DECISIVE_VICTORY"
	OutcomeNarrowVictory   OutcomeKind = "NARROW_VICTORY"
	OutcomeDraw            OutcomeKind = "DRAW"
	OutcomeSurrender       OutcomeKind = "SURRENDER"
	OutcomeAgreedDraw      OutcomeKind = "AGREED_DRAW"
	OutcomeProsperityDraw  OutcomeKind = "MUTUAL_PROSPERITY_DRAW"
	OutcomeTerminated      OutcomeKind = "TERMINATED"
)

// Outcome records how and when a match ended. WinnerID is empty for draws.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	WinnerID string      `json:"winner_id,omitempty"`
	Turn     int         `json:"turn"`
	Reason   string      `json:"reason,omitempty"`
}

// IsDraw reports whether the outcome has no winner.
func (o Outcome) IsDraw() bool {
	return o.WinnerID == ""
}

// Settings are fixed at creation time.
type Settings struct {
	StartingHealth int `json:"starting_health"`
	MaxHealth      int `json:"max_health"`
	StartingLines  int `json:"starting_lines"`
	MaxUnits       int `json:"max_units"`
}

// Default match constants.
const (
	DefaultStartingHealth = 25
	DefaultMaxHealth      = 35
	DefaultMaxUnits       = 60
	ProsperityTurns       = 3
	MaxPlayers            = 2
)

// DefaultSettings returns the standard match settings.
func DefaultSettings() Settings {
	return Settings{
		StartingHealth: DefaultStartingHealth,
		MaxHealth:      DefaultMaxHealth,
		MaxUnits:       DefaultMaxUnits,
	}
}

// Normalize fills zero values with defaults.
func (s Settings) Normalize() Settings {
	if s.MaxHealth <= 0 {
		s.MaxHealth = DefaultMaxHealth
	}
	if s.StartingHealth <= 0 {
		s.StartingHealth = DefaultStartingHealth
	}
	if s.StartingHealth > s.MaxHealth {
		s.StartingHealth = s.MaxHealth
	}
	if s.StartingLines < 0 {
		s.StartingLines = 0
	}
	if s.MaxUnits <= 0 {
		s.MaxUnits = DefaultMaxUnits
	}
	return s
}

// Player is one participant of the match.
type Player struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Faction   string       `json:"faction"`
	Health    int          `json:"health"`
	Lines     int          `json:"lines"`
	Status    PlayerStatus `json:"status"`
	TokenHash string       `json:"token_hash,omitempty"`
}

// Unit is a built ship. Units are flagged destroyed, never removed.
type Unit struct {
	ID                string `json:"id"`
	DefinitionID      string `json:"definition_id"`
	OwnerID           string `json:"owner_id"`
	Destroyed         bool   `json:"destroyed"`
	Charges           *int   `json:"charges,omitempty"`
	BuiltThisTurn     bool   `json:"built_this_turn"`
	ConsumedInUpgrade bool   `json:"consumed_in_upgrade"`
	BuiltOnTurn       int    `json:"built_on_turn"`
	// LinesPaid is what the build cost its owner; free builds pay nothing.
	LinesPaid int `json:"lines_paid,omitempty"`
	// ConsumedBy names the upgrade that consumed this unit.
	ConsumedBy string `json:"consumed_by,omitempty"`
}

// InPlay reports whether the unit can still act.
func (u *Unit) InPlay() bool {
	return !u.Destroyed && !u.ConsumedInUpgrade
}

// RemainingCharges returns the charge counter, zero when the unit has none.
func (u *Unit) RemainingCharges() int {
	if u.Charges == nil {
		return 0
	}
	return *u.Charges
}

// EffectKind distinguishes damage from healing.
type EffectKind string

const (
	EffectDamage EffectKind = "DAMAGE"
	EffectHeal   EffectKind = "HEAL"
)

// EffectOrigin records which step produced an effect.
type EffectOrigin string

const (
	OriginAutomatic   EffectOrigin = "AUTOMATIC"
	OriginOnceOnly    EffectOrigin = "ONCE_ONLY"
	OriginEndOfBuild  EffectOrigin = "END_OF_BUILD"
	OriginFirstStrike EffectOrigin = "FIRST_STRIKE"
	OriginCharge      EffectOrigin = "CHARGE"
	OriginEndOfBattle EffectOrigin = "END_OF_BATTLE"
)

// TriggeredEffect is a resolved damage or heal instruction waiting for the end of turn.
type TriggeredEffect struct {
	ID                   string       `json:"id"`
	Kind                 EffectKind   `json:"kind"`
	SourceUnitID         string       `json:"source_unit_id"`
	SourcePlayerID       string       `json:"source_player_id"`
	TargetPlayerID       string       `json:"target_player_id"`
	Amount               int          `json:"amount"`
	MustApplyIfDestroyed bool         `json:"must_apply_if_destroyed"`
	Origin               EffectOrigin `json:"origin"`
	PowerID              string       `json:"power_id"`
	Description          string       `json:"description"`
}

// SubphaseRequirement says whether a subphase runs this turn and who must act in it.
type SubphaseRequirement struct {
	Subphase rules.Subphase `json:"subphase"`
	Always   bool           `json:"always"`
	Players  []string       `json:"players"`
}

// Requires reports whether playerID must act during the subphase.
func (r SubphaseRequirement) Requires(playerID string) bool {
	for _, p := range r.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// PlayerReadiness ties a ready flag to the subphase it was given in.
type PlayerReadiness struct {
	PlayerID string         `json:"player_id"`
	Subphase rules.Subphase `json:"subphase"`
	Turn     int            `json:"turn"`
}

// PowerUse is an optional power use collected until the subphase barrier opens.
type PowerUse struct {
	PlayerID     string         `json:"player_id"`
	UnitID       string         `json:"unit_id"`
	PowerIndex   int            `json:"power_index"`
	TargetUnitID string         `json:"target_unit_id,omitempty"`
	Subphase     rules.Subphase `json:"subphase"`
}

// TurnSummary records what a health resolution did.
type TurnSummary struct {
	Turn    int            `json:"turn"`
	Damage  map[string]int `json:"damage"`
	Healing map[string]int `json:"healing"`
	Health  map[string]int `json:"health"`
	Skipped int            `json:"skipped"`
}

// TurnData is the turn-scoped part of the state.
type TurnData struct {
	Number                    int                   `json:"number"`
	Phase                     rules.Phase           `json:"phase"`
	Subphase                  rules.Subphase        `json:"subphase"`
	Required                  []SubphaseRequirement `json:"required"`
	Effects                   []TriggeredEffect     `json:"effects"`
	Damage                    map[string]int        `json:"damage"`
	Healing                   map[string]int        `json:"healing"`
	AnyChargeDeclared         bool                  `json:"any_charge_declared"`
	DiceRoll                  int                   `json:"dice_roll"`
	RerollRequested           bool                  `json:"reroll_requested"`
	StartingHealth            map[string]int        `json:"starting_health"`
	ConsecutiveMaxHealthTurns int                   `json:"consecutive_max_health_turns"`
	DrawEligible              bool                  `json:"draw_eligible"`
}

// Requirement returns the requirement entry for sub, if it runs this turn.
func (t *TurnData) Requirement(sub rules.Subphase) (SubphaseRequirement, bool) {
	for _, req := range t.Required {
		if req.Subphase == sub {
			return req, true
		}
	}
	return SubphaseRequirement{}, false
}

// IsRequired reports whether sub runs this turn.
func (t *TurnData) IsRequired(sub rules.Subphase) bool {
	_, ok := t.Requirement(sub)
	return ok
}

// DrawOffer is a pending draw proposal.
type DrawOffer struct {
	OfferedBy string `json:"offered_by"`
	Turn      int    `json:"turn"`
}

// GameState is the single source of truth for one match.
type GameState struct {
	ID          string                     `json:"id"`
	Status      GameStatus                 `json:"status"`
	Version     uint64                     `json:"version"`
	Settings    Settings                   `json:"settings"`
	Players     []Player                   `json:"players"`
	Units       map[string]*Unit           `json:"units"`
	NextUnitSeq int                        `json:"next_unit_seq"`
	Turn        TurnData                   `json:"turn"`
	Battle      BattleCommitmentState      `json:"battle"`
	Readiness   map[string]PlayerReadiness `json:"readiness"`
	PendingUses []PowerUse                 `json:"pending_uses"`
	DrawOffer   *DrawOffer                 `json:"draw_offer,omitempty"`
	Outcome     *Outcome                   `json:"outcome,omitempty"`
	History     []TurnSummary              `json:"history"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// New creates an empty match waiting for players.
func New(id string, settings Settings, now time.Time) *GameState {
	settings = settings.Normalize()
	return &GameState{
		ID:        id,
		Status:    StatusWaiting,
		Settings:  settings,
		Players:   make([]Player, 0, MaxPlayers),
		Units:     make(map[string]*Unit),
		Readiness: make(map[string]PlayerReadiness),
		Turn: TurnData{
			Phase:          rules.PhaseBuild,
			Subphase:       rules.SubphaseNone,
			Damage:         make(map[string]int),
			Healing:        make(map[string]int),
			StartingHealth: make(map[string]int),
		},
		Battle:    NewBattleCommitmentState(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Player returns the player with id.
func (s *GameState) Player(id string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// Opponent returns the other player of a two-player match.
func (s *GameState) Opponent(id string) (*Player, bool) {
	if _, ok := s.Player(id); !ok {
		return nil, false
	}
	for i := range s.Players {
		if s.Players[i].ID != id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// PlayerIDs returns player ids in seat order.
func (s *GameState) PlayerIDs() []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.ID
	}
	return ids
}

// ActivePlayerIDs returns the players still contesting the match, in seat order.
func (s *GameState) ActivePlayerIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Status == PlayerActive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// IsFull reports whether both seats are taken.
func (s *GameState) IsFull() bool {
	return len(s.Players) >= MaxPlayers
}

// Unit returns the unit with id.
func (s *GameState) Unit(id string) (*Unit, bool) {
	u, ok := s.Units[id]
	return u, ok
}

// UnitIDs returns every unit id in build order.
func (s *GameState) UnitIDs() []string {
	ids := make([]string, 0, len(s.Units))
	for id := range s.Units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return unitSeq(ids[i]) < unitSeq(ids[j])
	})
	return ids
}

// InPlayUnits returns the owner's units that can still act, in build order.
// An empty owner returns units of every player.
func (s *GameState) InPlayUnits(owner string) []*Unit {
	var units []*Unit
	for _, id := range s.UnitIDs() {
		u := s.Units[id]
		if !u.InPlay() {
			continue
		}
		if owner != "" && u.OwnerID != owner {
			continue
		}
		units = append(units, u)
	}
	return units
}

// CountInPlay counts the owner's in-play units of a definition.
func (s *GameState) CountInPlay(owner, definitionID string) int {
	count := 0
	for _, u := range s.Units {
		if u.InPlay() && u.OwnerID == owner && u.DefinitionID == definitionID {
			count++
		}
	}
	return count
}

// AddUnit creates a new unit owned by owner and returns it.
func (s *GameState) AddUnit(owner, definitionID string, charges int) *Unit {
	s.NextUnitSeq++
	u := &Unit{
		ID:            fmt.Sprintf("u%d", s.NextUnitSeq),
		DefinitionID:  definitionID,
		OwnerID:       owner,
		BuiltThisTurn: true,
		BuiltOnTurn:   s.Turn.Number,
	}
	if charges > 0 {
		c := charges
		u.Charges = &c
	}
	s.Units[u.ID] = u
	return u
}

// QueueEffect appends an effect to the turn accumulator and updates the per-player tallies.
func (s *GameState) QueueEffect(effect TriggeredEffect) {
	s.Turn.Effects = append(s.Turn.Effects, effect)
	if s.Turn.Damage == nil {
		s.Turn.Damage = make(map[string]int)
	}
	if s.Turn.Healing == nil {
		s.Turn.Healing = make(map[string]int)
	}
	switch effect.Kind {
	case EffectDamage:
		s.Turn.Damage[effect.TargetPlayerID] += effect.Amount
	case EffectHeal:
		s.Turn.Healing[effect.TargetPlayerID] += effect.Amount
	}
}

// CurrentRequirement returns the requirement of the current subphase.
func (s *GameState) CurrentRequirement() (SubphaseRequirement, bool) {
	return s.Turn.Requirement(s.Turn.Subphase)
}

// Touch bumps the version counter after an accepted change.
func (s *GameState) Touch(now time.Time) {
	s.Version++
	s.UpdatedAt = now
}

func unitSeq(id string) int {
	var n int
	if _, err := fmt.Sscanf(id, "u%d", &n); err != nil {
		return 0
	}
	return n
}
