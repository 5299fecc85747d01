package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvDBPath overrides the SQLite database location.
	EnvDBPath = "CHINESE_TUTOR_DB_PATH"

	appDirName = ".chinese-tutor"
	dbFileName = "chinese_tutor.db"
)

// DBPath resolves the SQLite database file and creates its directory.
//
// In order of precedence: explicit (usually storage.path), the
// CHINESE_TUTOR_DB_PATH variable, $XDG_DATA_HOME/chinese_tutor.db and
// ~/.chinese-tutor/chinese_tutor.db. A leading "~" is expanded.
func DBPath(explicit string) (string, error) {
	p := explicit
	if p == "" {
		p = os.Getenv(EnvDBPath)
	}
	if p == "" {
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("config: db path: %w", err)
			}
			base = filepath.Join(home, appDirName)
		}
		p = filepath.Join(base, dbFileName)
	}

	p, err := expandHome(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("config: db path: %w", err)
	}
	return p, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: db path: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
