package datadir

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileEnvVar overrides the .env file search entirely when set.
const EnvFileEnvVar = "BLOCKRUN_ENV_FILE"

// LoadEnv loads .env files from standard locations in priority order.
// godotenv never overrides variables already present in the environment, so
// real environment variables always win and earlier files beat later ones.
//
// Search order:
//  1. BLOCKRUN_ENV_FILE (if set, only that file is loaded)
//  2. {datadir}/.env
//  3. Project-level .env (current working directory)
func LoadEnv(dataRoot string) error {
	if custom := os.Getenv(EnvFileEnvVar); custom != "" {
		return godotenv.Load(custom)
	}

	var lastErr error
	for _, path := range envPaths(dataRoot) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func envPaths(dataRoot string) []string {
	var paths []string
	if dataRoot != "" {
		paths = append(paths, filepath.Join(dataRoot, ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	return paths
}
