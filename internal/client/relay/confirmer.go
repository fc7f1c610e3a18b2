package relay

import (
	"context"

	"github.com/dmitrijs2005/chunkpipe/internal/client/client"
)

// DeliveryRequest is one buffered record handed to the consumer.
type DeliveryRequest struct {
	ID          string
	FileName    string
	SessionID   string
	ChunkIndex  int
	Payload     []byte
	Encrypted   bool
	IsEndMarker bool
	Attempt     int
}

// DeliveryResult is the consumer's verdict. Only a confirmed result lets the
// relay delete the record and advance.
type DeliveryResult struct {
	Confirmed bool
	Message   string
}

// Confirmer receives records in order and confirms each one.
type Confirmer interface {
	Confirm(ctx context.Context, req DeliveryRequest) (DeliveryResult, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, req DeliveryRequest) (DeliveryResult, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, req DeliveryRequest) (DeliveryResult, error) {
	return f(ctx, req)
}

// Delivery is a request waiting for an answer from a ChannelConfirmer
// consumer. Exactly one of Confirm or Reject must be called.
type Delivery struct {
	Request DeliveryRequest
	reply   chan DeliveryResult
}

func (d *Delivery) Confirm(message string) {
	d.reply <- DeliveryResult{Confirmed: true, Message: message}
}

func (d *Delivery) Reject(message string) {
	d.reply <- DeliveryResult{Message: message}
}

// ChannelConfirmer hands requests to an in-process consumer over a channel
// and waits for its answer.
type ChannelConfirmer struct {
	ch chan *Delivery
}

func NewChannelConfirmer() *ChannelConfirmer {
	return &ChannelConfirmer{ch: make(chan *Delivery)}
}

// Deliveries is the consumer side.
func (c *ChannelConfirmer) Deliveries() <-chan *Delivery {
	return c.ch
}

func (c *ChannelConfirmer) Confirm(ctx context.Context, req DeliveryRequest) (DeliveryResult, error) {
	d := &Delivery{Request: req, reply: make(chan DeliveryResult, 1)}

	select {
	case c.ch <- d:
	case <-ctx.Done():
		return DeliveryResult{}, ctx.Err()
	}

	select {
	case res := <-d.reply:
		return res, nil
	case <-ctx.Done():
		return DeliveryResult{}, ctx.Err()
	}
}

// Uploader is the transport a GRPCConfirmer pushes chunks through.
type Uploader interface {
	UploadChunk(ctx context.Context, c client.Chunk) (*client.UploadResult, error)
}

// GRPCConfirmer forwards every data chunk to the receiver's relay endpoint;
// the receiver's acknowledgement confirms it. The end marker never leaves
// the sender and is confirmed once it is reached.
type GRPCConfirmer struct {
	Client Uploader
}

func (g GRPCConfirmer) Confirm(ctx context.Context, req DeliveryRequest) (DeliveryResult, error) {
	if req.IsEndMarker {
		return DeliveryResult{Confirmed: true, Message: "end of stream"}, nil
	}

	res, err := g.Client.UploadChunk(ctx, client.Chunk{
		FileName:   req.FileName,
		ChunkIndex: req.ChunkIndex,
		Body:       req.Payload,
		Encrypted:  req.Encrypted,
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Confirmed: true, Message: res.ActualFilename}, nil
}
