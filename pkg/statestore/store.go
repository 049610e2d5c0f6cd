// Package statestore persists the single deployment record that survives
// between invocations. The file is the source of truth for local intent;
// the ledger is the source of truth for everything else.
package statestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	stateFileName = "active-deployment.json"
	lockSuffix    = ".lock"
	fileMode      = 0o600
)

// ErrLocked means another invocation currently holds the record.
var ErrLocked = errors.New("deployment state is locked by another invocation")

// Store reads and writes one Record under an exclusive lock.
type Store struct {
	path string
}

// New returns a store rooted in dir. An empty dir falls back to the user's
// home directory, then to the working directory.
func New(dir string) *Store {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = home
		} else {
			dir = "."
		}
	}
	return &Store{path: filepath.Join(dir, stateFileName)}
}

func (s *Store) Path() string {
	return s.path
}

// Lock acquires the exclusive record lock and returns the release function.
// The lock must be held across any mutating operation and the release runs
// on every exit path, including failures.
func (s *Store) Lock() (func(), error) {
	lockPath := s.path + lockSuffix
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(lockPath)
			return nil, fmt.Errorf("%w (held by pid %s)", ErrLocked, strings.TrimSpace(string(holder)))
		}
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}

	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()

	return func() {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			log.Errorf("Could not release state lock %s: %s", lockPath, err)
		}
	}, nil
}

// Load returns the persisted record, or nil when none exists. Records with
// unknown fields or stages are rejected rather than silently accepted.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load deployment state: %w", err)
	}

	record := &Record{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(record); err != nil {
		return nil, fmt.Errorf("load deployment state: %w", err)
	}
	if err := record.validate(); err != nil {
		return nil, fmt.Errorf("load deployment state: %w", err)
	}
	return record, nil
}

// Save writes the record atomically: temp file in the same directory, then
// rename over the live path.
func (s *Store) Save(record *Record) error {
	if err := record.validate(); err != nil {
		return fmt.Errorf("save deployment state: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("save deployment state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("save deployment state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save deployment state: %w", err)
	}

	log.Debugf("Deployment state saved to %s", s.path)
	return nil
}

// Clear removes the record. Clearing an absent record is a no-op.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear deployment state: %w", err)
	}
	return nil
}
