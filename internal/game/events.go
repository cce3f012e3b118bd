package game

import (
	"fmt"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// diffEvents derives the events an accepted action produced by comparing the
// snapshots before and after it. Events never carry hidden bundle contents.
func diffEvents(before, after *state.GameState, actor string, now time.Time) []rules.Event {
	var events []rules.Event
	emit := func(t rules.EventType, playerID string) *rules.Event {
		ev := rules.NewEvent(t, after.ID, playerID)
		ev.Timestamp = now
		ev.Version = after.Version
		ev.Phase = after.Turn.Phase
		ev.Subphase = after.Turn.Subphase
		events = append(events, ev)
		return &events[len(events)-1]
	}

	if before.Status == state.StatusWaiting && after.Status != state.StatusWaiting {
		emit(rules.EventGameStarted, "")
	}

	for _, p := range after.Players {
		prev, ok := before.Player(p.ID)
		if !ok {
			emit(rules.EventPlayerJoined, p.ID).Description = p.Name
			continue
		}
		if prev.Status == state.PlayerActive && p.Status == state.PlayerSurrendered {
			emit(rules.EventSurrendered, p.ID)
		}
	}

	for _, id := range sortedKeys(after.Readiness) {
		ready := after.Readiness[id]
		if prevReady, ok := before.Readiness[id]; ok && prevReady == ready {
			continue
		}
		ev := emit(rules.EventPlayerReady, id)
		ev.Subphase = ready.Subphase
	}

	for _, window := range []state.Window{state.WindowDeclaration, state.WindowResponse} {
		prevBundles := bundlesOf(before.Battle, window)
		for _, id := range sortedKeys(bundlesOf(after.Battle, window)) {
			if _, ok := prevBundles[id]; !ok && before.Turn.Number == after.Turn.Number {
				emit(rules.EventChargesSubmitted, id).Metadata["window"] = string(window)
			}
		}
	}

	for _, id := range after.UnitIDs() {
		u := after.Units[id]
		prev, existed := before.Units[id]
		if !existed {
			ev := emit(rules.EventUnitBuilt, u.OwnerID)
			ev.SourceID = u.ID
			ev.Description = u.DefinitionID
			continue
		}
		if !prev.Destroyed && u.Destroyed {
			ev := emit(rules.EventUnitDestroyed, u.OwnerID)
			ev.SourceID = u.ID
			ev.Description = u.DefinitionID
		}
	}

	if !before.Battle.DeclarationRevealed && after.Battle.DeclarationRevealed {
		emit(rules.EventWindowRevealed, "").Metadata["window"] = string(state.WindowDeclaration)
	}
	if !before.Battle.ResponseRevealed && after.Battle.ResponseRevealed {
		emit(rules.EventWindowRevealed, "").Metadata["window"] = string(state.WindowResponse)
	}

	for _, summary := range after.History[min(len(before.History), len(after.History)):] {
		ev := emit(rules.EventTurnResolved, "")
		ev.Amount = summary.Turn
		for id, health := range summary.Health {
			ev.Metadata["health."+id] = fmt.Sprint(health)
		}
	}

	if before.Turn.Number != after.Turn.Number && after.Status == state.StatusActive {
		ev := emit(rules.EventTurnStarted, "")
		ev.Amount = after.Turn.Number
		roll := emit(rules.EventDiceRolled, "")
		roll.Amount = after.Turn.DiceRoll
	} else if before.Turn.Number == after.Turn.Number && len(after.Turn.Required) > len(before.Turn.Required) {
		emit(rules.EventRequirementsGrew, actor).Amount = len(after.Turn.Required)
	}

	if before.Turn.Subphase != after.Turn.Subphase || before.Turn.Number != after.Turn.Number {
		emit(rules.EventSubphaseChanged, "")
	}

	switch {
	case before.DrawOffer == nil && after.DrawOffer != nil:
		emit(rules.EventDrawOffered, after.DrawOffer.OfferedBy)
	case before.DrawOffer != nil && after.DrawOffer == nil && after.Outcome == nil && before.Turn.Number != after.Turn.Number:
		emit(rules.EventDrawExpired, before.DrawOffer.OfferedBy)
	case before.DrawOffer != nil && after.DrawOffer == nil && after.Outcome == nil:
		emit(rules.EventDrawRefused, actor)
	}

	if before.Status != state.StatusCompleted && after.Status == state.StatusCompleted && after.Outcome != nil {
		t := rules.EventGameEnded
		if after.Outcome.Kind == state.OutcomeTerminated {
			t = rules.EventGameTerminated
		}
		ev := emit(t, after.Outcome.WinnerID)
		ev.Description = string(after.Outcome.Kind)
		ev.Metadata["reason"] = after.Outcome.Reason
	}

	emit(rules.EventStateChanged, actor)
	return events
}

func bundlesOf(b state.BattleCommitmentState, w state.Window) map[string]state.ChargeBundle {
	if w == state.WindowResponse {
		return b.Responses
	}
	return b.Declarations
}
