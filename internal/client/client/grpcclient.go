package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/chunkpipe/internal/auth"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	pb "github.com/dmitrijs2005/chunkpipe/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var errNotSupported = errors.New("not supported over grpc")

// GRPCClient delivers chunks to the receiver's relay endpoint.
type GRPCClient struct {
	endpointURL  string
	apiKey       string
	signedTokens bool
	conn         *grpc.ClientConn
	client       pb.RelayClient
}

var _ Client = (*GRPCClient)(nil)

func NewGRPCClient(endpointURL, apiKey string, signedTokens bool, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, apiKey: apiKey, signedTokens: signedTokens}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.authInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = pb.NewRelayClient(conn)
	return c, nil
}

func (c *GRPCClient) authInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	cred := c.apiKey
	if c.signedTokens {
		tok, err := auth.GenerateToken("", []byte(c.apiKey), tokenTTL)
		if err != nil {
			return err
		}
		cred = tok
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pb.MetadataAuthorization, "Bearer "+cred)
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (c *GRPCClient) UploadChunk(ctx context.Context, ch Chunk) (*UploadResult, error) {
	md := metadata.Pairs(
		pb.MetadataChunkIndex, strconv.Itoa(ch.ChunkIndex),
		pb.MetadataFileName, ch.FileName,
	)
	if ch.Encrypted {
		md.Set(pb.MetadataChunkEncoding, common.EnvelopeEncoding)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	resp, err := c.client.Deliver(ctx, wrapperspb.Bytes(ch.Body))
	if err != nil {
		return nil, c.mapError(err)
	}
	return resultFromStruct(resp), nil
}

func (c *GRPCClient) FetchPublicKey(ctx context.Context) (*PublicKey, error) {
	return nil, errNotSupported
}

// Health only kicks the connection out of idle; the first Deliver reports
// an unreachable receiver.
func (c *GRPCClient) Health(ctx context.Context) error {
	c.conn.Connect()
	return nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", common.ErrAuthentication, st.Message())
	case codes.InvalidArgument, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrPathSecurity, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrCrypto, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s", common.ErrNetwork, st.Message())
	default:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	}
}

func resultFromStruct(s *structpb.Struct) *UploadResult {
	f := s.GetFields()
	return &UploadResult{
		Message:        f["message"].GetStringValue(),
		ActualFilename: f["actualFilename"].GetStringValue(),
		ChunkIndex:     int(f["chunkIndex"].GetNumberValue()),
		ClientFilename: f["clientFilename"].GetStringValue(),
	}
}
