package wallet

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known local development key (hardhat account 0). Never funded on any
// real network.
const (
	devKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devKey     = "0x" + devKeyHex
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// --- ParseKey tests ---

func TestParseKey_Valid(t *testing.T) {
	key, err := ParseKey(devKey)
	require.NoError(t, err)
	assert.Equal(t, devKeyHex, hex.EncodeToString(key.Serialize()))
}

func TestParseKey_TrimsSurroundingWhitespace(t *testing.T) {
	key, err := ParseKey(devKey + "\n")
	require.NoError(t, err)
	assert.Equal(t, devKeyHex, hex.EncodeToString(key.Serialize()))
}

func TestParseKey_RejectsMissingPrefix(t *testing.T) {
	_, err := ParseKey(devKeyHex)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x")
}

func TestParseKey_RejectsWrongLength(t *testing.T) {
	_, err := ParseKey("0xabc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex chars")
}

func TestParseKey_RejectsBadHex(t *testing.T) {
	_, err := ParseKey("0x" + strings.Repeat("zz", 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hex")
}

func TestParseKey_RejectsZeroKey(t *testing.T) {
	_, err := ParseKey("0x" + strings.Repeat("00", 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero")
}

// --- Store tests ---

func TestStore_LoadFromEnv(t *testing.T) {
	t.Setenv(EnvWalletKey, devKey)

	store := NewStore(t.TempDir())
	key, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, devAddress, AddressFromKey(key))
}

func TestStore_LoadFromFile(t *testing.T) {
	t.Setenv(EnvWalletKey, "")

	dir := t.TempDir()
	path := filepath.Join(dir, KeyFileName)
	require.NoError(t, os.WriteFile(path, []byte(devKey+"\n"), 0o600))

	store := NewStore(dir)
	key, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, devAddress, AddressFromKey(key))
}

func TestStore_LoadMissingFile(t *testing.T) {
	t.Setenv(EnvWalletKey, "")

	store := NewStore(t.TempDir())
	_, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet key")
}

func TestStore_LoadRejectsMalformedFile(t *testing.T) {
	t.Setenv(EnvWalletKey, "")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), []byte("garbage\n"), 0o600))

	store := NewStore(dir)
	_, err := store.Load()
	require.Error(t, err)
}

func TestStore_InvalidEnvKeyNamesVariable(t *testing.T) {
	t.Setenv(EnvWalletKey, "not-a-key")

	store := NewStore(t.TempDir())
	_, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvWalletKey)
}

func TestStore_KeyPath(t *testing.T) {
	store := NewStore("/tmp/blockrun")
	assert.Equal(t, filepath.Join("/tmp/blockrun", "wallet.key"), store.KeyPath())
}
