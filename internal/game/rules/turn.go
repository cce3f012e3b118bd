package rules

import (
	"fmt"
	"strings"
)

// Phase represents the major phases a turn moves through.
type Phase int

const (
	PhaseBuild Phase = iota
	PhaseBattle
	PhaseHealthResolution
	PhaseEndOfGame
)

var phaseNames = map[Phase]string{
	PhaseBuild:            "BUILD",
	PhaseBattle:           "BATTLE",
	PhaseHealthResolution: "HEALTH_RESOLUTION",
	PhaseEndOfGame:        "END_OF_GAME",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// MarshalText encodes the phase by name so snapshots stay readable.
func (p Phase) MarshalText() ([]byte, error) {
	if _, ok := phaseNames[p]; !ok {
		return nil, fmt.Errorf("unknown phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for phase, phaseName := range phaseNames {
		if phaseName == name {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(text))
}

// Subphase represents one of the ordered steps of a turn.
type Subphase int

const (
	SubphaseNone Subphase = iota
	SubphaseDiceRoll
	SubphaseDiceManipulation
	SubphaseLineGeneration
	SubphaseLineBonus
	SubphaseShipsThatBuild
	SubphaseDrawing
	SubphaseOnceOnly
	SubphaseEndOfBuild
	SubphaseFirstStrike
	SubphaseAutomaticTally
	SubphaseChargeDeclaration
	SubphaseChargeResponse
	SubphaseEndOfBattle
)

// MaxSubphases is the number of distinct subphases a turn can contain.
const MaxSubphases = 13

var subphaseNames = map[Subphase]string{
	SubphaseNone:              "NONE",
	SubphaseDiceRoll:          "DICE_ROLL",
	SubphaseDiceManipulation:  "DICE_MANIPULATION",
	SubphaseLineGeneration:    "LINE_GENERATION",
	SubphaseLineBonus:         "LINE_BONUS",
	SubphaseShipsThatBuild:    "SHIPS_THAT_BUILD",
	SubphaseDrawing:           "DRAWING",
	SubphaseOnceOnly:          "ONCE_ONLY",
	SubphaseEndOfBuild:        "END_OF_BUILD",
	SubphaseFirstStrike:       "FIRST_STRIKE",
	SubphaseAutomaticTally:    "AUTOMATIC_TALLY",
	SubphaseChargeDeclaration: "CHARGE_DECLARATION",
	SubphaseChargeResponse:    "CHARGE_RESPONSE",
	SubphaseEndOfBattle:       "END_OF_BATTLE",
}

func (s Subphase) String() string {
	if name, ok := subphaseNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SUBPHASE_%d", int(s))
}

// MarshalText encodes the subphase by name.
func (s Subphase) MarshalText() ([]byte, error) {
	if _, ok := subphaseNames[s]; !ok {
		return nil, fmt.Errorf("unknown subphase %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a subphase name.
func (s *Subphase) UnmarshalText(text []byte) error {
	parsed, err := ParseSubphase(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSubphase resolves a subphase from its name.
func ParseSubphase(name string) (Subphase, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for sub, subName := range subphaseNames {
		if subName == upper {
			return sub, nil
		}
	}
	return SubphaseNone, fmt.Errorf("unknown subphase %q", name)
}

// Valid reports whether s is one of the thirteen playable subphases.
func (s Subphase) Valid() bool {
	return s >= SubphaseDiceRoll && s <= SubphaseEndOfBattle
}

// Order returns the 1-based position of the subphase within a turn.
func (s Subphase) Order() int {
	return int(s)
}

// Before reports whether s runs before other in the same turn.
func (s Subphase) Before(other Subphase) bool {
	return s.Order() < other.Order()
}

// Phase returns the major phase the subphase belongs to.
func (s Subphase) Phase() Phase {
	if s >= SubphaseFirstStrike {
		return PhaseBattle
	}
	return PhaseBuild
}

// Always reports whether the subphase runs every turn regardless of units in play.
func (s Subphase) Always() bool {
	switch s {
	case SubphaseDiceRoll, SubphaseLineGeneration, SubphaseDrawing, SubphaseAutomaticTally:
		return true
	default:
		return false
	}
}

// Timing is the tag a power carries to declare when it acts.
type Timing string

const (
	TimingDiceManipulation Timing = "dice_manipulation"
	TimingLineBonus        Timing = "line_bonus"
	TimingShipsThatBuild   Timing = "ships_that_build"
	TimingOnceOnly         Timing = "once_only"
	TimingEndOfBuild       Timing = "end_of_build"
	TimingFirstStrike      Timing = "first_strike"
	TimingAutomatic        Timing = "automatic"
	TimingCharge           Timing = "charge"
	TimingEndOfBattle      Timing = "end_of_battle"
)

var subphaseTimings = map[Subphase]Timing{
	SubphaseDiceManipulation:  TimingDiceManipulation,
	SubphaseLineBonus:         TimingLineBonus,
	SubphaseShipsThatBuild:    TimingShipsThatBuild,
	SubphaseOnceOnly:          TimingOnceOnly,
	SubphaseEndOfBuild:        TimingEndOfBuild,
	SubphaseFirstStrike:       TimingFirstStrike,
	SubphaseAutomaticTally:    TimingAutomatic,
	SubphaseChargeDeclaration: TimingCharge,
	SubphaseChargeResponse:    TimingCharge,
	SubphaseEndOfBattle:       TimingEndOfBattle,
}

// Timing returns the power timing handled during the subphase, if any.
func (s Subphase) Timing() (Timing, bool) {
	timing, ok := subphaseTimings[s]
	return timing, ok
}

// ValidTiming reports whether t is a known timing tag.
func ValidTiming(t Timing) bool {
	for _, timing := range subphaseTimings {
		if timing == t {
			return true
		}
	}
	return false
}

// turnSequence is the canonical order of every subphase; each turn runs a subset of it.
var turnSequence = []Subphase{
	SubphaseDiceRoll,
	SubphaseDiceManipulation,
	SubphaseLineGeneration,
	SubphaseLineBonus,
	SubphaseShipsThatBuild,
	SubphaseDrawing,
	SubphaseOnceOnly,
	SubphaseEndOfBuild,
	SubphaseFirstStrike,
	SubphaseAutomaticTally,
	SubphaseChargeDeclaration,
	SubphaseChargeResponse,
	SubphaseEndOfBattle,
}

// TurnSequence returns a copy of the canonical subphase order.
func TurnSequence() []Subphase {
	sequence := make([]Subphase, len(turnSequence))
	copy(sequence, turnSequence)
	return sequence
}

// FirstSubphase is where every turn begins.
func FirstSubphase() Subphase {
	return turnSequence[0]
}

// LastSubphase is the final battle subphase in the canonical order.
func LastSubphase() Subphase {
	return turnSequence[len(turnSequence)-1]
}
