// Package grpc serves the relay endpoint: one confirmed chunk per Deliver
// call, acknowledged only after it was appended to storage.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	pb "github.com/dmitrijs2005/chunkpipe/internal/proto"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
	"google.golang.org/grpc"
)

type Ingester interface {
	Ingest(ctx context.Context, c services.Chunk) (*services.Result, error)
}

type GRPCServer struct {
	address string
	ingest  Ingester
	logger  logging.Logger
	apiKey  string
}

var _ pb.RelayServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, ingest Ingester, apiKey string) (*GRPCServer, error) {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		ingest:  ingest,
		apiKey:  apiKey,
	}, nil
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts relay calls on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {

	// creates gRPC-server
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.authInterceptor))

	// registers service
	pb.RegisterRelayServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
