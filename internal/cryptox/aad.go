package cryptox

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
)

// Metadata is bound to every packet as additional authenticated data.
// Timestamp is Unix milliseconds.
type Metadata struct {
	SessionID string `json:"sessionId"`
	Seq       int64  `json:"seq"`
	Codec     string `json:"codec"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalAAD renders meta as compact JSON with a fixed key order.
// An empty codec is written as CodecRaw.
func MarshalAAD(meta Metadata) ([]byte, error) {
	if meta.Codec == "" {
		meta.Codec = CodecRaw
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal aad: %w", err)
	}
	return b, nil
}

func ParseAAD(aad []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(aad, &m); err != nil {
		return Metadata{}, common.ErrCrypto
	}
	return m, nil
}
