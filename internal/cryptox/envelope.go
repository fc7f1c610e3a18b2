// Package cryptox implements the envelope encryption used for chunk
// payloads: an RSA-OAEP wrapped AES-256 session key per stream and AES-GCM
// sealed packets whose sequence metadata is bound as additional data.
//
// Every unwrap or open failure is reported as common.ErrCrypto with no
// further detail.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/shared"
)

const (
	DefaultKeyBits = 4096
	MinKeyBits     = 2048

	SessionKeySize = 32
	IVSize         = 12
	TagSize        = 16

	kidLength = 16
)

var kidPattern = regexp.MustCompile(`^[a-f0-9]{16}$`)

// KeyPair is a freshly generated RSA key pair with its PEM encodings.
type KeyPair struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
	PublicPEM  string
	PrivatePEM string
	Kid        string
}

// GenerateKeyPair creates an RSA key of the given size. bits <= 0 selects
// DefaultKeyBits.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	if bits < MinKeyBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, MinKeyBits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	privPEM, err := MarshalPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
		PublicPEM:  pubPEM,
		PrivatePEM: privPEM,
		Kid:        KeyID(pubPEM),
	}, nil
}

// KeyID derives the stable identifier of a public key: the first 16 hex
// characters of the SHA-256 of its PEM text.
func KeyID(publicPEM string) string {
	sum := sha256.Sum256([]byte(publicPEM))
	return hex.EncodeToString(sum[:])[:kidLength]
}

func IsValidKeyID(kid string) bool {
	return kidPattern.MatchString(kid)
}

func GenerateSessionKey() ([]byte, error) {
	return shared.RandBytes(SessionKeySize)
}

// NewSessionID returns 16 random bytes, hex encoded.
func NewSessionID() (string, error) {
	return shared.MakeRandHexString(16)
}

func WrapSessionKey(sessionKey []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes", SessionKeySize)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	return wrapped, nil
}

func UnwrapSessionKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, common.ErrCrypto
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil || len(key) != SessionKeySize {
		return nil, common.ErrCrypto
	}
	return key, nil
}

// Sealed is the output of EncryptPacket.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
	AAD        []byte
}

// EncryptPacket seals plaintext under sessionKey with a fresh random IV,
// authenticating meta as additional data.
func EncryptPacket(plaintext, sessionKey []byte, meta Metadata) (*Sealed, error) {
	aead, err := newGCM(sessionKey)
	if err != nil {
		return nil, err
	}

	aad, err := MarshalAAD(meta)
	if err != nil {
		return nil, err
	}

	iv, err := shared.RandBytes(IVSize)
	if err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}

	out := aead.Seal(nil, iv, plaintext, aad)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split],
		AuthTag:    out[split:],
		IV:         iv,
		AAD:        aad,
	}, nil
}

// DecryptPacket reverses EncryptPacket. Any mismatch in key, IV, tag,
// ciphertext or AAD yields common.ErrCrypto.
func DecryptPacket(ciphertext, sessionKey, iv, authTag, aad []byte) ([]byte, error) {
	if len(iv) != IVSize || len(authTag) != TagSize {
		return nil, common.ErrCrypto
	}
	aead, err := newGCM(sessionKey)
	if err != nil {
		return nil, common.ErrCrypto
	}

	sealed := make([]byte, 0, len(ciphertext)+len(authTag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, common.ErrCrypto
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes", SessionKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
