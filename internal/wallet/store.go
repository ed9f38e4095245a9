package wallet

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// EnvWalletKey overrides the on-disk key file when set.
const EnvWalletKey = "BLOCKRUN_WALLET_KEY"

// KeyFileName is the wallet key file inside the data directory.
const KeyFileName = "wallet.key"

// Store loads the signing key from the environment or the data directory.
type Store struct {
	dir string
}

// NewStore creates a key store rooted at the given data directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// KeyPath returns the on-disk location of the wallet key.
func (s *Store) KeyPath() string {
	return filepath.Join(s.dir, KeyFileName)
}

// Load reads the wallet private key. BLOCKRUN_WALLET_KEY takes precedence
// when set; otherwise the key file in the data directory is read. The file
// is expected to hold a single 0x-prefixed 64-hex-char line with mode 0600.
func (s *Store) Load() (*secp256k1.PrivateKey, error) {
	if raw := os.Getenv(EnvWalletKey); raw != "" {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvWalletKey, err)
		}
		return key, nil
	}

	path := s.KeyPath()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet key %s: %w", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		log.Printf("[Wallet] key file %s has mode %04o, expected 0600", path, info.Mode().Perm())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet key %s: %w", path, err)
	}

	key, err := ParseKey(string(raw))
	if err != nil {
		return nil, fmt.Errorf("wallet key %s: %w", path, err)
	}
	return key, nil
}

// ParseKey validates and decodes a 0x-prefixed 64-hex-char private key.
// Surrounding whitespace, including the trailing newline the key file
// carries, is ignored.
func ParseKey(raw string) (*secp256k1.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") {
		return nil, fmt.Errorf("private key must start with 0x")
	}

	hexPart := trimmed[2:]
	if len(hexPart) != 64 {
		return nil, fmt.Errorf("private key must be 64 hex chars, got %d", len(hexPart))
	}

	keyBytes, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid hex: %w", err)
	}

	key := secp256k1.PrivKeyFromBytes(keyBytes)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("private key is zero")
	}
	return key, nil
}
