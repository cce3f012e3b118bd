package server

import (
	"context"
	"testing"

	"github.com/shipyard/shipyard-server-go/internal/auth"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/turn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func newTestEngine(t *testing.T) *game.Engine {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	engine, err := game.NewEngine(game.EngineConfig{
		Catalog:     cat,
		Logger:      zaptest.NewLogger(t),
		Dice:        turn.NewScriptedDice(4),
		Credentials: auth.NewBcryptCredentials(bcrypt.MinCost),
	})
	require.NoError(t, err)
	return engine
}

// startedGame creates an active game for p1 (token t1) and p2 (token t2).
func startedGame(t *testing.T, engine *game.Engine) string {
	t.Helper()
	ctx := context.Background()
	view, err := engine.CreateGame(ctx, game.CreateRequest{
		Creator: game.JoinRequest{PlayerID: "p1", Faction: "human", Token: "t1"},
	})
	require.NoError(t, err)
	_, err = engine.JoinGame(ctx, view.State.ID, game.JoinRequest{PlayerID: "p2", Faction: "xenite", Token: "t2"})
	require.NoError(t, err)
	return view.State.ID
}
