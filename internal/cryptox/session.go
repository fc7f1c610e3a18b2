package cryptox

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/shared"
)

// Session is the sender side of one encrypted stream: an ephemeral AES key
// wrapped once under the receiver's public key.
type Session struct {
	ID        string
	Kid       string
	Codec     string
	CreatedAt time.Time

	key     []byte
	wrapped []byte
}

func NewSession(pub *rsa.PublicKey, kid, codec string) (*Session, error) {
	if !IsValidKeyID(kid) {
		return nil, fmt.Errorf("invalid kid %q", kid)
	}
	if !IsKnownCodec(codec) {
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
	if codec == "" {
		codec = CodecRaw
	}

	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	key, err := GenerateSessionKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := WrapSessionKey(key, pub)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:        id,
		Kid:       kid,
		Codec:     codec,
		CreatedAt: time.Now().UTC(),
		key:       key,
		wrapped:   wrapped,
	}, nil
}

// WrappedKey returns the session key as wrapped for the receiver.
func (s *Session) WrappedKey() []byte {
	return s.wrapped
}

// Seal encodes and encrypts one chunk as packet number seq.
func (s *Session) Seal(seq int64, plaintext []byte) (*WirePacket, error) {
	encoded, err := Encode(s.Codec, plaintext)
	if err != nil {
		return nil, err
	}

	sealed, err := EncryptPacket(encoded, s.key, Metadata{
		SessionID: s.ID,
		Seq:       seq,
		Codec:     s.Codec,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	return &WirePacket{
		Kid:        s.Kid,
		SessionID:  s.ID,
		Seq:        seq,
		WrappedKey: s.wrapped,
		IV:         sealed.IV,
		AAD:        sealed.AAD,
		Ciphertext: sealed.Ciphertext,
		AuthTag:    sealed.AuthTag,
	}, nil
}

// Destroy wipes the session key. The session cannot seal afterwards.
func (s *Session) Destroy() {
	shared.WipeByteArray(s.key)
	s.key = nil
}
