// Package secrets seals short strings, such as provider API keys, before
// they are written to the key-value store.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marks values produced by SealString so plain values stored
// before a key was configured can still be told apart.
const sealedPrefix = "sealed:"

var ErrNoKeys = errors.New("no sealing keys configured")

type envelope struct {
	KeyID      string `json:"kid"`
	Nonce      string `json:"n"`
	Ciphertext string `json:"ct"`
}

// Sealer encrypts with the current key and decrypts with any known key, so
// keys can be rotated without rewriting stored values first.
type Sealer struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewSealer(currentKeyID string, keys map[string][]byte) (*Sealer, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		cp[id] = append([]byte(nil), key...)
	}
	return &Sealer{currentKeyID: currentKeyID, keys: cp}, nil
}

func (s *Sealer) CurrentKeyID() string {
	return s.currentKeyID
}

func (s *Sealer) SealString(plain string) (string, error) {
	aead, err := gcm(s.keys[s.currentKeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	env := envelope{
		KeyID:      s.currentKeyID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, []byte(plain), []byte(s.currentKeyID))),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// KeyID reports which key sealed a value.
func KeyID(sealed string) (string, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return "", err
	}
	return env.KeyID, nil
}

func decodeEnvelope(sealed string) (envelope, error) {
	if !IsSealed(sealed) {
		return envelope{}, fmt.Errorf("value is not sealed")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

func (s *Sealer) OpenString(sealed string) (string, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return "", err
	}
	key, ok := s.keys[env.KeyID]
	if !ok {
		return "", fmt.Errorf("unknown key id %q", env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := gcm(key)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("bad nonce length %d", len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ct, []byte(env.KeyID))
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}

// Reseal opens a value and seals it again under the current key.
func (s *Sealer) Reseal(sealed string) (string, error) {
	plain, err := s.OpenString(sealed)
	if err != nil {
		return "", err
	}
	return s.SealString(plain)
}

func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

func gcm(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
