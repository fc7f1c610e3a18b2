package grpc

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	pb "github.com/dmitrijs2005/chunkpipe/internal/proto"
	"github.com/dmitrijs2005/chunkpipe/internal/server/pathpolicy"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (s *GRPCServer) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {

	md, _ := metadata.FromIncomingContext(ctx)

	name := first(md, pb.MetadataFileName)
	if strings.TrimSpace(name) == "" {
		return nil, status.Error(codes.InvalidArgument, "missing "+pb.MetadataFileName)
	}

	index := 0
	if v := first(md, pb.MetadataChunkIndex); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, status.Error(codes.InvalidArgument, "invalid "+pb.MetadataChunkIndex)
		}
		index = n
	}

	encoding := first(md, pb.MetadataChunkEncoding)
	if encoding != "" && encoding != common.EnvelopeEncoding {
		return nil, status.Error(codes.InvalidArgument, "unsupported "+pb.MetadataChunkEncoding)
	}

	res, err := s.ingest.Ingest(ctx, services.Chunk{
		ClientFilename: name,
		ChunkIndex:     index,
		Body:           in.GetValue(),
		Encrypted:      encoding == common.EnvelopeEncoding,
	})
	if err != nil {
		return nil, s.statusError(ctx, err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"message":        res.Message,
		"actualFilename": res.ActualFilename,
		"chunkIndex":     res.ChunkIndex,
		"clientFilename": res.ClientFilename,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil

}

// statusError maps ingest failures; crypto failures use FailedPrecondition
// so the relay does not treat them as transient.
func (s *GRPCServer) statusError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, pathpolicy.ErrOutsideRoot):
		return status.Error(codes.PermissionDenied, "access denied: invalid path")
	case errors.Is(err, common.ErrPathSecurity), errors.Is(err, services.ErrInvalidChunk):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, services.ErrOutOfOrder):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrCrypto):
		return status.Error(codes.FailedPrecondition, common.ErrCrypto.Error())
	default:
		s.logger.Error(ctx, "deliver failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
