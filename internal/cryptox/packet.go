package cryptox

import (
	"encoding/json"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
)

// WirePacket is the serialized form of an encrypted chunk. It carries the
// wrapped session key and the kid that wrapped it, so the receiver needs no
// session state of its own. Byte fields are base64 in JSON.
type WirePacket struct {
	Kid        string `json:"kid"`
	SessionID  string `json:"sessionId"`
	Seq        int64  `json:"seq"`
	WrappedKey []byte `json:"wrappedKey"`
	IV         []byte `json:"iv"`
	AAD        []byte `json:"aad"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"authTag"`
}

func (p *WirePacket) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalWirePacket parses and sanity-checks a packet. Malformed input is
// reported as common.ErrCrypto, like any other decryption failure.
func UnmarshalWirePacket(b []byte) (*WirePacket, error) {
	var p WirePacket
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, common.ErrCrypto
	}
	if !IsValidKeyID(p.Kid) || p.SessionID == "" || len(p.WrappedKey) == 0 ||
		len(p.IV) != IVSize || len(p.AuthTag) != TagSize || len(p.AAD) == 0 {
		return nil, common.ErrCrypto
	}
	return &p, nil
}

// OpenPacket decrypts p with an already unwrapped session key, checks that
// the authenticated metadata matches the packet header and undoes the
// payload codec.
func OpenPacket(p *WirePacket, sessionKey []byte) ([]byte, Metadata, error) {
	plaintext, err := DecryptPacket(p.Ciphertext, sessionKey, p.IV, p.AuthTag, p.AAD)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta, err := ParseAAD(p.AAD)
	if err != nil {
		return nil, Metadata{}, err
	}
	if meta.SessionID != p.SessionID || meta.Seq != p.Seq {
		return nil, Metadata{}, common.ErrCrypto
	}
	data, err := Decode(meta.Codec, plaintext)
	if err != nil {
		return nil, Metadata{}, common.ErrCrypto
	}
	return data, meta, nil
}
