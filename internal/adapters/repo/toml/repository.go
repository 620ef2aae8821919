// Package toml persists ledger entries and workflow sessions as TOML files
// under the mailpilot data directory.
package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	StoreDirKey    = "store.dir"
	LedgerPathKey  = "ledger.path"
	SessionPathKey = "sessions.path"

	dataFileMode   = 0o600
	dataDirMode    = 0o700
	defaultDataDir = ".mailpilot"
	ledgerFile     = "ledger.toml"
	sessionsFile   = "sessions.toml"
	lockSuffix     = ".lock"
	lockRetryDelay = 10 * time.Millisecond
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// resolvePath picks the file for key: an explicit path wins, then
// store.dir, then ~/.mailpilot.
func resolvePath(cfg *viper.Viper, key string, fileName string) (string, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := strings.TrimSpace(cfg.GetString(key))
	if path == "" {
		dir := strings.TrimSpace(cfg.GetString(StoreDirKey))
		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
			dir = filepath.Join(homeDir, defaultDataDir)
		}
		path = filepath.Join(dir, fileName)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}

	return filepath.Clean(absPath), nil
}

// lockForPath shares one mutex between every repository opened on the same
// file inside this process.
func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

// lockForWrite takes the in-process lock for path and an advisory file lock
// next to it, so mp processes sharing the data directory write one at a time.
func lockForWrite(ctx context.Context, mu *sync.RWMutex, path string) (func(), error) {
	mu.Lock()

	if err := os.MkdirAll(filepath.Dir(path), dataDirMode); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	fileLock := flock.New(path+lockSuffix, flock.SetPermissions(dataFileMode))
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err == nil && !locked {
		err = errors.New("lock not acquired")
	}
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}

	return func() {
		_ = fileLock.Unlock()
		mu.Unlock()
	}, nil
}

// readTOMLFile decodes path into out. A missing file leaves out untouched.
func readTOMLFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return nil
}

func writeTOMLFile(path string, file any) error {
	name := filepath.Base(path)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, dataDirMode); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tempFile, err := os.CreateTemp(dir, "."+strings.TrimSuffix(name, filepath.Ext(name))+"-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s: %w", name, err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp %s: %w", name, err)
	}

	if err := tempFile.Chmod(dataFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp %s: %w", name, err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp %s: %w", name, err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}

	cleanup = false
	return nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}

	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
