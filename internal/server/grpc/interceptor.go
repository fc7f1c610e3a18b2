package grpc

import (
	"context"

	"github.com/dmitrijs2005/chunkpipe/internal/auth"
	pb "github.com/dmitrijs2005/chunkpipe/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) authInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if info.FullMethod == pb.RelayDeliverFullMethodName {

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(pb.MetadataAuthorization)
			if len(values) > 0 {
				header = values[0]
			}
		}
		if len(header) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing credential")
		}

		if err := auth.Authenticate(header, s.apiKey); err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid credential")
		}

	}

	return handler(ctx, req)
}
