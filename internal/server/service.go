package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// TurnServiceName is the fully qualified gRPC service name.
const TurnServiceName = "shipyard.v1.TurnService"

// TurnServiceServer is the server API of the turn service. Messages are
// google.protobuf.Struct documents holding the JSON shapes of the game package.
type TurnServiceServer interface {
	CreateGame(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinGame(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetView(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HasChanged(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAnalytics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetServerState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type turnMethod func(TurnServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call turnMethod) grpc.MethodDesc {
	fullMethod := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TurnServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TurnServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TurnServiceDesc describes the turn service for grpc.Server.RegisterService.
var TurnServiceDesc = grpc.ServiceDesc{
	ServiceName: TurnServiceName,
	HandlerType: (*TurnServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateGame", TurnServiceServer.CreateGame),
		unaryMethod("JoinGame", TurnServiceServer.JoinGame),
		unaryMethod("SubmitAction", TurnServiceServer.SubmitAction),
		unaryMethod("GetView", TurnServiceServer.GetView),
		unaryMethod("HasChanged", TurnServiceServer.HasChanged),
		unaryMethod("GetAnalytics", TurnServiceServer.GetAnalytics),
		unaryMethod("GetServerState", TurnServiceServer.GetServerState),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shipyard/v1/turn.proto",
}

// RegisterTurnServiceServer registers srv on s.
func RegisterTurnServiceServer(s grpc.ServiceRegistrar, srv TurnServiceServer) {
	s.RegisterService(&TurnServiceDesc, srv)
}

// FullMethod returns the gRPC method path of a turn service method.
func FullMethod(name string) string {
	return "/" + TurnServiceName + "/" + name
}

// decodeStruct converts a request document into out through its JSON form.
func decodeStruct(in *structpb.Struct, out any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// encodeStruct converts v into a response document through its JSON form.
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}
