package rules

// ActionType identifies what a player is trying to do.
type ActionType string

const (
	// ActionReady signals the player has finished acting in the current subphase.
	ActionReady ActionType = "READY"
	// ActionBuild builds a ship by paying lines (and components for upgrades).
	ActionBuild ActionType = "BUILD"
	// ActionUsePower uses an optional power of one of the player's ships.
	ActionUsePower ActionType = "USE_POWER"
	// ActionSubmitCharges commits a hidden bundle of charge declarations.
	ActionSubmitCharges ActionType = "SUBMIT_CHARGES"
	// ActionSurrender ends the game immediately in the opponent's favour.
	ActionSurrender ActionType = "SURRENDER"
	// ActionOfferDraw proposes ending the game as a draw.
	ActionOfferDraw ActionType = "OFFER_DRAW"
	// ActionAcceptDraw accepts the opponent's pending draw offer.
	ActionAcceptDraw ActionType = "ACCEPT_DRAW"
	// ActionRefuseDraw declines the opponent's pending draw offer.
	ActionRefuseDraw ActionType = "REFUSE_DRAW"
)

// AllActionTypes lists every action the rules understand.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionReady,
		ActionBuild,
		ActionUsePower,
		ActionSubmitCharges,
		ActionSurrender,
		ActionOfferDraw,
		ActionAcceptDraw,
		ActionRefuseDraw,
	}
}

// subphaseActions lists the subphase-bound actions allowed in each subphase.
// READY is accepted in every playable subphase and is not listed here.
var subphaseActions = map[Subphase][]ActionType{
	SubphaseDiceManipulation:  {ActionUsePower},
	SubphaseShipsThatBuild:    {ActionUsePower},
	SubphaseDrawing:           {ActionBuild},
	SubphaseFirstStrike:       {ActionUsePower},
	SubphaseChargeDeclaration: {ActionSubmitCharges},
	SubphaseChargeResponse:    {ActionSubmitCharges},
}

// IsActionLegal reports whether an action type may be submitted during the given
// major phase and subphase.
func IsActionLegal(action ActionType, phase Phase, sub Subphase) bool {
	switch action {
	case ActionSurrender:
		return phase == PhaseBuild || phase == PhaseBattle
	case ActionOfferDraw, ActionAcceptDraw, ActionRefuseDraw:
		// Draws are negotiated between turns, never while battle effects are pending.
		return phase == PhaseBuild
	case ActionReady:
		return (phase == PhaseBuild || phase == PhaseBattle) && sub.Valid()
	}

	if phase != PhaseBuild && phase != PhaseBattle {
		return false
	}
	if sub.Phase() != phase {
		return false
	}
	for _, allowed := range subphaseActions[sub] {
		if allowed == action {
			return true
		}
	}
	return false
}

// IsBuildingSubphase reports whether units can be created during the subphase.
func IsBuildingSubphase(sub Subphase) bool {
	return sub == SubphaseShipsThatBuild || sub == SubphaseDrawing
}

// IsCommitmentSubphase reports whether the subphase is a hidden commit/reveal window.
func IsCommitmentSubphase(sub Subphase) bool {
	return sub == SubphaseChargeDeclaration || sub == SubphaseChargeResponse
}
