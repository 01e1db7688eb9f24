package service

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrStoreInUse is returned by New when another live process owns the task store
var ErrStoreInUse = errors.New("task store is in use by another memocapture process")

// ownerLock marks the process that drives recordings against a task store.
// Only the owner may run crash recovery, which would otherwise demote a row
// another process is still recording into.
type ownerLock struct {
	path string
}

func lockPath(database string) string { return database + ".lock" }

func acquireOwnerLock(database string) (*ownerLock, error) {
	if database == ":memory:" {
		return nil, nil
	}
	path := lockPath(database)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			return &ownerLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		pid, perr := readLockPID(path)
		if perr == nil && pid != os.Getpid() && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrStoreInUse, pid)
		}
		log.Warn().Str("path", path).Int("pid", pid).Msg("removing stale lock file")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lock file %s keeps reappearing", ErrStoreInUse, path)
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (l *ownerLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
