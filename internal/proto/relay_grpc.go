// Package proto holds the gRPC service definition of the receiver's relay
// endpoint. Messages are well-known types, so no generated message code is
// needed.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	RelayServiceName           = "chunkpipe.relay.v1.Relay"
	RelayDeliverFullMethodName = "/chunkpipe.relay.v1.Relay/Deliver"
)

// Metadata keys carried with every Deliver call.
const (
	MetadataAuthorization = "authorization"
	MetadataChunkIndex    = "x-chunk-index"
	MetadataFileName      = "x-file-name"
	MetadataChunkEncoding = "x-chunk-encoding"
)

// RelayClient is the client API for the Relay service.
type RelayClient interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type relayClient struct {
	cc grpc.ClientConnInterface
}

func NewRelayClient(cc grpc.ClientConnInterface) RelayClient {
	return &relayClient{cc}
}

func (c *relayClient) Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, RelayDeliverFullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RelayServer is the server API for the Relay service.
type RelayServer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
}

func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&Relay_ServiceDesc, srv)
}

func _Relay_Deliver_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RelayDeliverFullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RelayServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Relay_ServiceDesc is the grpc.ServiceDesc for the Relay service.
var Relay_ServiceDesc = grpc.ServiceDesc{
	ServiceName: RelayServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    _Relay_Deliver_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chunkpipe/relay/v1/relay.proto",
}
