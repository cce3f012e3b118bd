package powers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// Expression is a compiled effect expression such as
// "damage 1 + 2 per fighter to opponent".
type Expression struct {
	Kind   state.EffectKind
	Terms  []Term
	Target catalog.Target
}

// Term is either a flat amount or an amount multiplied by the number of the
// owner's in-play ships of a definition.
type Term struct {
	Amount int
	Per    string
}

// ParseExpression compiles an expression of the form
//
//	(damage|heal) TERM [+ TERM]... [to self|opponent]
//	TERM := INT | INT per DEFINITION
//
// Keywords are case-insensitive; definition ids are kept as written.
func ParseExpression(expr string) (Expression, error) {
	tokens := strings.Fields(expr)
	if len(tokens) < 2 {
		return Expression{}, fmt.Errorf("expression %q: expected kind and amount", expr)
	}

	var e Expression
	switch strings.ToLower(tokens[0]) {
	case "damage":
		e.Kind = state.EffectDamage
	case "heal":
		e.Kind = state.EffectHeal
	default:
		return Expression{}, fmt.Errorf("expression %q: unknown kind %q", expr, tokens[0])
	}

	rest := tokens[1:]
	if n := len(rest); n >= 2 && strings.EqualFold(rest[n-2], "to") {
		switch strings.ToLower(rest[n-1]) {
		case "self":
			e.Target = catalog.TargetSelf
		case "opponent":
			e.Target = catalog.TargetOpponent
		default:
			return Expression{}, fmt.Errorf("expression %q: unknown target %q", expr, rest[n-1])
		}
		rest = rest[:n-2]
	}

	for len(rest) > 0 {
		amount, err := strconv.Atoi(rest[0])
		if err != nil {
			return Expression{}, fmt.Errorf("expression %q: expected number, got %q", expr, rest[0])
		}
		if amount < 0 {
			return Expression{}, fmt.Errorf("expression %q: negative amount", expr)
		}
		term := Term{Amount: amount}
		rest = rest[1:]

		if len(rest) >= 2 && strings.EqualFold(rest[0], "per") {
			term.Per = rest[1]
			rest = rest[2:]
		}
		e.Terms = append(e.Terms, term)

		if len(rest) == 0 {
			break
		}
		if rest[0] != "+" || len(rest) == 1 {
			return Expression{}, fmt.Errorf("expression %q: unexpected %q", expr, strings.Join(rest, " "))
		}
		rest = rest[1:]
	}

	if len(e.Terms) == 0 {
		return Expression{}, fmt.Errorf("expression %q: no amount", expr)
	}
	return e, nil
}

// Evaluate computes the magnitude for owner against a state snapshot.
func (e Expression) Evaluate(s *state.GameState, owner string) int {
	total := 0
	for _, term := range e.Terms {
		if term.Per == "" {
			total += term.Amount
			continue
		}
		total += term.Amount * s.CountInPlay(owner, term.Per)
	}
	return total
}
