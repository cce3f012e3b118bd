package game

import (
	"sync/atomic"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/rules"
)

// gameAnalytics counts what happened in one match. Integrity warnings arrive
// from inside resolution, so every counter is atomic.
type gameAnalytics struct {
	startedAt         time.Time
	actions           atomic.Int64
	rejected          atomic.Int64
	turnsResolved     atomic.Int64
	unitsBuilt        atomic.Int64
	unitsDestroyed    atomic.Int64
	chargesSubmitted  atomic.Int64
	integrityWarnings atomic.Int64
}

// AnalyticsSummary is a point-in-time copy of a match's counters.
type AnalyticsSummary struct {
	GameID            string  `json:"game_id"`
	Actions           int64   `json:"actions"`
	Rejected          int64   `json:"rejected"`
	TurnsResolved     int64   `json:"turns_resolved"`
	UnitsBuilt        int64   `json:"units_built"`
	UnitsDestroyed    int64   `json:"units_destroyed"`
	ChargesSubmitted  int64   `json:"charges_submitted"`
	IntegrityWarnings int64   `json:"integrity_warnings"`
	GameTimeSeconds   float64 `json:"game_time_seconds"`
}

func newGameAnalytics(now time.Time) *gameAnalytics {
	return &gameAnalytics{startedAt: now}
}

// track folds the events of an accepted action into the counters.
func (a *gameAnalytics) track(events []rules.Event) {
	a.actions.Add(1)
	for _, ev := range events {
		switch ev.Type {
		case rules.EventTurnResolved:
			a.turnsResolved.Add(1)
		case rules.EventUnitBuilt:
			a.unitsBuilt.Add(1)
		case rules.EventUnitDestroyed:
			a.unitsDestroyed.Add(1)
		case rules.EventChargesSubmitted:
			a.chargesSubmitted.Add(1)
		}
	}
}

func (a *gameAnalytics) summary(gameID string, now time.Time) AnalyticsSummary {
	return AnalyticsSummary{
		GameID:            gameID,
		Actions:           a.actions.Load(),
		Rejected:          a.rejected.Load(),
		TurnsResolved:     a.turnsResolved.Load(),
		UnitsBuilt:        a.unitsBuilt.Load(),
		UnitsDestroyed:    a.unitsDestroyed.Load(),
		ChargesSubmitted:  a.chargesSubmitted.Load(),
		IntegrityWarnings: a.integrityWarnings.Load(),
		GameTimeSeconds:   now.Sub(a.startedAt).Seconds(),
	}
}
