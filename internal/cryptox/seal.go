package cryptox

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/shared"
	"golang.org/x/crypto/argon2"
)

const saltSize = 16

// DeriveMasterKey stretches a passphrase into a 32-byte AES key with
// argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// SealedKey is a private key PEM encrypted under a passphrase.
type SealedKey struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealPrivateKey encrypts privatePEM with a key derived from passphrase.
func SealPrivateKey(privatePEM string, passphrase []byte) (*SealedKey, error) {
	salt, err := shared.RandBytes(saltSize)
	if err != nil {
		return nil, err
	}

	key := DeriveMasterKey(passphrase, salt)
	defer shared.WipeByteArray(key)

	aead, err := newPassphraseGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := shared.RandBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	return &SealedKey{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, []byte(privatePEM), salt),
	}, nil
}

// OpenPrivateKey reverses SealPrivateKey. A wrong passphrase yields
// common.ErrCrypto.
func OpenPrivateKey(s *SealedKey, passphrase []byte) (string, error) {
	key := DeriveMasterKey(passphrase, s.Salt)
	defer shared.WipeByteArray(key)

	aead, err := newPassphraseGCM(key)
	if err != nil {
		return "", common.ErrCrypto
	}
	if len(s.Nonce) != aead.NonceSize() {
		return "", common.ErrCrypto
	}
	pemText, err := aead.Open(nil, s.Nonce, s.Ciphertext, s.Salt)
	if err != nil {
		return "", common.ErrCrypto
	}
	return string(pemText), nil
}

func newPassphraseGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
