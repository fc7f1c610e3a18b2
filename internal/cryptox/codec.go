package cryptox

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Payload codecs applied before encryption and recorded in the AAD.
const (
	CodecRaw  = "raw"
	CodecLZMA = "lzma"
)

func IsKnownCodec(codec string) bool {
	return codec == "" || codec == CodecRaw || codec == CodecLZMA
}

// Encode applies codec to data.
func Encode(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "", CodecRaw:
		return data, nil
	case CodecLZMA:
		var buf bytes.Buffer
		w, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

// Decode reverses Encode.
func Decode(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "", CodecRaw:
		return data, nil
	case CodecLZMA:
		r, err := lzma.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}
