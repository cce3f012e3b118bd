package state

import "fmt"

// Window identifies one of the two hidden commit/reveal windows of a battle phase.
type Window string

const (
	WindowDeclaration Window = "DECLARATION"
	WindowResponse    Window = "RESPONSE"
)

// Valid reports whether w names a known window.
func (w Window) Valid() bool {
	return w == WindowDeclaration || w == WindowResponse
}

// CommitmentStage tracks progress through the commit/reveal protocol.
type CommitmentStage string

const (
	StageAwaitingDeclaration CommitmentStage = "AWAITING_DECLARATION"
	StageDeclarationRevealed CommitmentStage = "DECLARATION_REVEALED"
	StageAwaitingResponse    CommitmentStage = "AWAITING_RESPONSE"
	StageResponseRevealed    CommitmentStage = "RESPONSE_REVEALED"
	StageResolved            CommitmentStage = "RESOLVED"
)

// ChargeDeclaration is one charge power a player commits to use.
type ChargeDeclaration struct {
	UnitID       string `json:"unit_id"`
	PowerIndex   int    `json:"power_index"`
	TargetUnitID string `json:"target_unit_id,omitempty"`
}

// ChargeBundle is everything a player committed in one window. Hidden is set on
// redacted copies handed to the opponent before reveal.
type ChargeBundle struct {
	PlayerID     string              `json:"player_id"`
	Declarations []ChargeDeclaration `json:"declarations"`
	EnergySpent  int                 `json:"energy_spent,omitempty"`
	Hidden       bool                `json:"hidden,omitempty"`
}

// Empty reports whether the bundle declares nothing.
func (b ChargeBundle) Empty() bool {
	return len(b.Declarations) == 0
}

// BattleCommitmentState holds the two hidden windows of the current battle phase.
type BattleCommitmentState struct {
	Stage               CommitmentStage         `json:"stage"`
	Declarations        map[string]ChargeBundle `json:"declarations"`
	Responses           map[string]ChargeBundle `json:"responses"`
	DeclarationRevealed bool                    `json:"declaration_revealed"`
	ResponseRevealed    bool                    `json:"response_revealed"`
	AnyDeclarationsMade bool                    `json:"any_declarations_made"`
}

// NewBattleCommitmentState returns an empty commitment state.
func NewBattleCommitmentState() BattleCommitmentState {
	return BattleCommitmentState{
		Stage:        StageAwaitingDeclaration,
		Declarations: make(map[string]ChargeBundle),
		Responses:    make(map[string]ChargeBundle),
	}
}

// Bundles returns the submission map for a window.
func (b *BattleCommitmentState) Bundles(w Window) map[string]ChargeBundle {
	switch w {
	case WindowDeclaration:
		if b.Declarations == nil {
			b.Declarations = make(map[string]ChargeBundle)
		}
		return b.Declarations
	case WindowResponse:
		if b.Responses == nil {
			b.Responses = make(map[string]ChargeBundle)
		}
		return b.Responses
	default:
		panic(fmt.Sprintf("unknown commitment window %q", w))
	}
}

// Revealed reports whether a window has been made observable.
func (b *BattleCommitmentState) Revealed(w Window) bool {
	if w == WindowDeclaration {
		return b.DeclarationRevealed
	}
	return b.ResponseRevealed
}

// HasSubmitted reports whether a player already committed in a window.
func (b *BattleCommitmentState) HasSubmitted(w Window, playerID string) bool {
	_, ok := b.Bundles(w)[playerID]
	return ok
}
