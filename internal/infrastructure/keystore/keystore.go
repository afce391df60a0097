package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrKeyNotFound  = errors.New("signing key not found")
	ErrNoDefaultKey = errors.New("default signing key not configured")
)

// KeyStore holds the HMAC keys used to sign rail requests.
type KeyStore struct {
	keys         map[string][]byte
	defaultKeyID string
}

// Parse builds a keystore from a "keyId:hex,keyId2:hex" list. With a single
// key and no defaultKeyID, that key becomes the default.
func Parse(raw, defaultKeyID string) (*KeyStore, error) {
	keys := make(map[string][]byte)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, encoded, ok := strings.Cut(p, ":")
		if !ok || id == "" {
			return nil, errors.New("invalid signing key list: want keyId:hex")
		}
		key, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("signing key %s: %w", id, err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("signing key %s is empty", id)
		}
		keys[id] = key
	}

	if defaultKeyID == "" && len(keys) == 1 {
		for id := range keys {
			defaultKeyID = id
		}
	}
	if defaultKeyID != "" {
		if _, ok := keys[defaultKeyID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, defaultKeyID)
		}
	}
	return &KeyStore{keys: keys, defaultKeyID: defaultKeyID}, nil
}

func (s *KeyStore) Len() int { return len(s.keys) }

func (s *KeyStore) Get(keyID string) ([]byte, error) {
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Default returns the key new requests are signed with.
func (s *KeyStore) Default() (keyID string, key []byte, err error) {
	if s.defaultKeyID == "" {
		return "", nil, ErrNoDefaultKey
	}
	key, err = s.Get(s.defaultKeyID)
	return s.defaultKeyID, key, err
}
