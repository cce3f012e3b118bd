package server

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Metadata keys carrying player credentials.
const (
	PlayerIDMetadataKey    = "x-player-id"
	PlayerTokenMetadataKey = "x-player-token"
)

type playerContextKey struct{}

// PlayerFromContext returns the player authenticated for this call.
func PlayerFromContext(ctx context.Context) (string, bool) {
	playerID, ok := ctx.Value(playerContextKey{}).(string)
	return playerID, ok && playerID != ""
}

// WithPlayer marks ctx as authenticated for playerID.
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, playerContextKey{}, playerID)
}

// ChainUnaryInterceptors composes interceptors so the first one runs outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		chained := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			next := chained
			chained = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, next)
			}
		}
		return chained(ctx, req)
	}
}

// RecoveryInterceptor turns handler panics into Internal errors.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in grpc handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its duration and status code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("host", extractHostFromContext(ctx)),
		}
		switch code {
		case codes.OK:
			logger.Debug("grpc call", fields...)
		case codes.Internal, codes.Unknown:
			logger.Error("grpc call failed", append(fields, zap.Error(err))...)
		default:
			logger.Info("grpc call rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// Authenticator checks a player's token for a game.
type Authenticator interface {
	Authenticate(ctx context.Context, gameID, playerID, token string) error
}

// PlayerAuthInterceptor authenticates calls to the methods listed in
// protected. The game id is read from the request's game_id field and the
// credentials from the x-player-id and x-player-token metadata.
func PlayerAuthInterceptor(auth Authenticator, protected ...string) grpc.UnaryServerInterceptor {
	guarded := make(map[string]bool, len(protected))
	for _, method := range protected {
		guarded[method] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !guarded[info.FullMethod] {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		playerID := firstValue(md, PlayerIDMetadataKey)
		token := firstValue(md, PlayerTokenMetadataKey)
		if playerID == "" {
			return nil, status.Errorf(codes.Unauthenticated, "%s metadata is required", PlayerIDMetadataKey)
		}

		doc, ok := req.(*structpb.Struct)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unexpected request type %T", req)
		}
		gameID := strings.TrimSpace(doc.GetFields()["game_id"].GetStringValue())
		if gameID == "" {
			return nil, status.Errorf(codes.InvalidArgument, "game_id is required")
		}

		if err := auth.Authenticate(ctx, gameID, playerID, token); err != nil {
			return nil, toStatus(err)
		}
		return handler(WithPlayer(ctx, playerID), req)
	}
}

// PlayerMethods lists the turn service methods that act as a seated player.
func PlayerMethods() []string {
	return []string{FullMethod("SubmitAction"), FullMethod("GetView")}
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
