// Package api is the control plane of the daemon: a gRPC service on the
// session's Unix socket that chatctl drives.
//
// The service is declared by hand. Requests, replies and watch events are
// google.protobuf.Struct values, so no generated code is involved on
// either side.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.Control"

// Unary method names.
const (
	MethodStatus         = "Status"
	MethodLogin          = "Login"
	MethodLogout         = "Logout"
	MethodContacts       = "Contacts"
	MethodGroups         = "Groups"
	MethodOpen           = "Open"
	MethodOpenGroup      = "OpenGroup"
	MethodClose          = "Close"
	MethodHistory        = "History"
	MethodSend           = "Send"
	MethodSendGroup      = "SendGroup"
	MethodSendMedia      = "SendMedia"
	MethodLeaveGroup     = "LeaveGroup"
	MethodCreateGroup    = "CreateGroup"
	MethodSearchUsers    = "SearchUsers"
	MethodSearchMessages = "SearchMessages"
	MethodRecent         = "Recent"
)

// MethodWatch is the server-streaming event method.
const MethodWatch = "Watch"

// FullMethod returns the wire path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// WatchStream describes the Watch stream for clients.
var WatchStream = grpc.StreamDesc{
	StreamName:    MethodWatch,
	ServerStreams: true,
}

// Controller is the handler type the service descriptor checks against.
type Controller interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

type unaryFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, fn unaryFunc) grpc.MethodHandler {
	fullMethod := FullMethod(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(structpb.Struct)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return fn(ctx, r.(*structpb.Struct))
		})
	}
}

// Register adds the control service to srv.
func (s *ControlService) Register(srv *grpc.Server) {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Controller)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    MethodWatch,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(structpb.Struct)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(Controller).Watch(req, stream)
			},
		}},
		Metadata: "chatsync/v1/control",
	}
	for name, fn := range s.methods() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, fn)})
	}
	srv.RegisterService(&desc, s)
}
