package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default data directory under $HOME. The proxy
	// shares the openclaw tree with its companion tools.
	DefaultDirName = ".openclaw/blockrun"

	// EnvVar is the environment variable that overrides the data directory.
	EnvVar = "BLOCKRUN_DATA_DIR"

	// ConfigFileName is the proxy config file inside the data root.
	ConfigFileName = "config.json"

	// UsageDBFileName is the usage database inside the data root.
	UsageDBFileName = "usage.db"
)

// DataDir resolves and manages the proxy's on-disk data directory. The
// directory holds the config file, the wallet key, and the usage database.
type DataDir struct {
	root string
}

// New resolves the data directory. Precedence: the custom argument, then
// BLOCKRUN_DATA_DIR, then ~/.openclaw/blockrun.
func New(custom string) (*DataDir, error) {
	root := custom
	if root == "" {
		root = os.Getenv(EnvVar)
	}
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, DefaultDirName)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory %s: %w", root, err)
	}
	return &DataDir{root: abs}, nil
}

// Root returns the data directory root path.
func (d *DataDir) Root() string {
	return d.root
}

// ConfigPath returns the config file path inside the data root.
func (d *DataDir) ConfigPath() string {
	return filepath.Join(d.root, ConfigFileName)
}

// UsageDBPath returns the usage database path inside the data root.
func (d *DataDir) UsageDBPath() string {
	return filepath.Join(d.root, UsageDBFileName)
}

// EnsureDirs creates the data root with owner-only permissions. The wallet
// key lives here, so group and world access stay off.
func (d *DataDir) EnsureDirs() error {
	if err := os.MkdirAll(d.root, 0o700); err != nil {
		return fmt.Errorf("create data directory %s: %w", d.root, err)
	}
	return nil
}
