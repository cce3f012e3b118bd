package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/auth"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GameEngine is the part of the game engine the transports use.
type GameEngine interface {
	CreateGame(ctx context.Context, req game.CreateRequest) (*game.PlayerView, error)
	JoinGame(ctx context.Context, gameID string, req game.JoinRequest) (*game.PlayerView, error)
	SubmitAction(ctx context.Context, gameID string, action game.PlayerAction) (*game.PlayerView, error)
	PlayerView(ctx context.Context, gameID, playerID string) (*game.PlayerView, error)
	HasChanged(ctx context.Context, gameID string, sinceVersion uint64) (bool, uint64, error)
	Authenticate(ctx context.Context, gameID, playerID, token string) error
	Analytics(gameID string) (game.AnalyticsSummary, error)
}

// turnServer implements TurnServiceServer on top of the game engine.
type turnServer struct {
	engine        GameEngine
	logger        *zap.Logger
	serverVersion string
}

// NewTurnServer creates the gRPC turn service.
func NewTurnServer(engine GameEngine, serverVersion string, logger *zap.Logger) TurnServiceServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &turnServer{engine: engine, logger: logger, serverVersion: serverVersion}
}

type joinGameRequest struct {
	GameID string           `json:"game_id"`
	Player game.JoinRequest `json:"player"`
}

type submitActionRequest struct {
	GameID string            `json:"game_id"`
	Action game.PlayerAction `json:"action"`
}

type gameRequest struct {
	GameID       string `json:"game_id"`
	SinceVersion uint64 `json:"since_version,omitempty"`
}

// seatResponse is returned on create and join. Token is only set when the
// server generated it.
type seatResponse struct {
	GameID   string           `json:"game_id"`
	PlayerID string           `json:"player_id"`
	Token    string           `json:"token,omitempty"`
	View     *game.PlayerView `json:"view"`
}

// CreateGame opens a match and seats its creator.
func (s *turnServer) CreateGame(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req game.CreateRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	generated := ensureToken(&req.Creator)

	view, err := s.engine.CreateGame(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info("game created over grpc",
		zap.String("game_id", view.State.ID),
		zap.String("player_id", view.ViewerID),
		zap.String("host", extractHostFromContext(ctx)))
	return encodeStruct(seatResponse{GameID: view.State.ID, PlayerID: view.ViewerID, Token: generated, View: view})
}

// JoinGame seats the second player.
func (s *turnServer) JoinGame(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req joinGameRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.GameID) == "" {
		return nil, status.Errorf(codes.InvalidArgument, "game_id is required")
	}
	generated := ensureToken(&req.Player)

	view, err := s.engine.JoinGame(ctx, req.GameID, req.Player)
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info("player joined over grpc",
		zap.String("game_id", req.GameID),
		zap.String("player_id", view.ViewerID),
		zap.String("host", extractHostFromContext(ctx)))
	return encodeStruct(seatResponse{GameID: req.GameID, PlayerID: view.ViewerID, Token: generated, View: view})
}

// SubmitAction applies one action for the authenticated player.
func (s *turnServer) SubmitAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submitActionRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	playerID, err := actingPlayer(ctx, req.Action.PlayerID)
	if err != nil {
		return nil, err
	}
	req.Action.PlayerID = playerID

	view, err := s.engine.SubmitAction(ctx, req.GameID, req.Action)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(map[string]any{"view": view})
}

// GetView returns the authenticated player's view of a game.
func (s *turnServer) GetView(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gameRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	playerID, err := actingPlayer(ctx, "")
	if err != nil {
		return nil, err
	}

	view, err := s.engine.PlayerView(ctx, req.GameID, playerID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(map[string]any{"view": view})
}

// HasChanged reports whether a game moved past since_version.
func (s *turnServer) HasChanged(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gameRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}

	changed, version, err := s.engine.HasChanged(ctx, req.GameID, req.SinceVersion)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(map[string]any{"changed": changed, "version": version})
}

// GetAnalytics returns a game's counters.
func (s *turnServer) GetAnalytics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gameRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}

	summary, err := s.engine.Analytics(req.GameID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(summary)
}

// GetServerState reports the server version and time.
func (s *turnServer) GetServerState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encodeStruct(map[string]any{
		"server_version": s.serverVersion,
		"server_time":    time.Now().UTC(),
	})
}

// ensureToken fills in a token for players who did not bring one and returns
// it so it can be handed back exactly once.
func ensureToken(req *game.JoinRequest) string {
	if req.Token != "" {
		return ""
	}
	req.Token = auth.NewToken()
	return req.Token
}

// actingPlayer returns the authenticated player, rejecting a body that claims
// to act for someone else.
func actingPlayer(ctx context.Context, claimed string) (string, error) {
	playerID, ok := PlayerFromContext(ctx)
	if !ok {
		return "", status.Errorf(codes.Unauthenticated, "player credentials are required")
	}
	if claimed != "" && claimed != playerID {
		return "", status.Errorf(codes.PermissionDenied, "cannot act for player %s", claimed)
	}
	return playerID, nil
}

// toStatus maps engine errors onto gRPC status codes. Validation failures
// carry their code in front of the reason.
func toStatus(err error) error {
	var validation *rules.ValidationError
	var fatal *rules.FatalGameError
	switch {
	case errors.As(err, &validation):
		return status.Errorf(codes.InvalidArgument, "%s: %s", validation.Code, validation.Reason)
	case errors.As(err, &fatal):
		return status.Errorf(codes.FailedPrecondition, "%s", fatal.Error())
	case errors.Is(err, game.ErrGameNotFound):
		return status.Errorf(codes.NotFound, "%v", err)
	case errors.Is(err, game.ErrUnauthenticated):
		return status.Errorf(codes.Unauthenticated, "%v", err)
	case errors.Is(err, game.ErrAlreadyJoined):
		return status.Errorf(codes.AlreadyExists, "%v", err)
	case errors.Is(err, game.ErrGameFull), errors.Is(err, game.ErrGameNotWaiting):
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// extractHostFromContext returns the caller's host for logging.
func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != net.Addr(nil) {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
