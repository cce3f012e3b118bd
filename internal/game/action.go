package game

import (
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// PlayerAction is a single submission from a client. Only the fields relevant
// to Type are read.
type PlayerAction struct {
	Type     rules.ActionType `json:"type"`
	PlayerID string           `json:"player_id"`

	// BUILD
	DefinitionID string `json:"definition_id,omitempty"`

	// USE_POWER
	UnitID       string `json:"unit_id,omitempty"`
	PowerIndex   int    `json:"power_index,omitempty"`
	TargetUnitID string `json:"target_unit_id,omitempty"`

	// SUBMIT_CHARGES
	Declarations []state.ChargeDeclaration `json:"declarations,omitempty"`

	// ExpectedVersion rejects the action if the game moved on since the client
	// last looked. Zero skips the check.
	ExpectedVersion uint64 `json:"expected_version,omitempty"`
}

// CreateRequest describes a new match and its creator.
type CreateRequest struct {
	Settings state.Settings `json:"settings"`
	Creator  JoinRequest    `json:"creator"`
}

// JoinRequest identifies a player taking a seat.
type JoinRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
	Faction  string `json:"faction"`
	// Token is the player's secret; only its hash is kept.
	Token string `json:"token,omitempty"`
}
