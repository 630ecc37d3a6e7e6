package executor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/utils/log"
)

// ReplayFunc receives every entry recovered from the log at path, in log
// order. Returning an error aborts recovery of that log.
type ReplayFunc func(path string, h *wal.Header, e *wal.LogEntry) error

// RecoveryResult describes what happened to one log file.
type RecoveryResult struct {
	Path string
	// MovedTo is where the replayed file was moved. Empty for dry runs and
	// for files that were removed or did not exist.
	MovedTo string
	// Removed is set when the file was too short to hold a header.
	Removed bool
	Stats   ReplayStats
}

// CommandLogRecovery replays command logs left behind by a previous run and
// moves them out of the way so that new writers can be opened.
type CommandLogRecovery struct {
	finder *wal.Finder
	dryRun bool
	now    func() time.Time
}

func NewCommandLogRecovery(filePattern string, dryRun bool) (*CommandLogRecovery, error) {
	finder, err := wal.NewFinder(os.ReadDir, filePattern)
	if err != nil {
		return nil, err
	}
	return &CommandLogRecovery{
		finder: finder,
		dryRun: dryRun,
		now:    time.Now,
	}, nil
}

// RecoverDir replays every command log found directly under rootDir.
func (c *CommandLogRecovery) RecoverDir(rootDir string, apply ReplayFunc) ([]*RecoveryResult, error) {
	paths, err := c.finder.Find(rootDir)
	if err != nil {
		return nil, err
	}
	results := make([]*RecoveryResult, 0, len(paths))
	for _, path := range paths {
		res, err := c.Recover(path, apply)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Recover replays the log at path, if there is one. A corrupt header, a read
// error or an error from apply aborts and leaves the file in place. A damaged
// tail does not: everything before it is replayed and the rest is dropped.
func (c *CommandLogRecovery) Recover(path string, apply ReplayFunc) (*RecoveryResult, error) {
	res := &RecoveryResult{Path: path}

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fileStat of %s: %w", path, err)
	}
	if fi.Size() < wal.MinHeaderSize {
		// crashed before the header was synced, nothing was ever acknowledged
		log.Info("command log %s is empty, removing it...", path)
		if !c.dryRun {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to remove an empty command log %s: %w", path, err)
			}
			res.Removed = true
		}
		return res, nil
	}

	log.Info("Found a command log: %s, entering replay...", path)
	r, err := OpenForReplay(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	index := 0
	err = r.ForEach(func(e *wal.LogEntry) error {
		if apply != nil {
			if err := apply(path, r.Header(), e); err != nil {
				return wal.ReplayError{Path: path, Index: index, Err: err}
			}
		}
		index++
		return nil
	})
	res.Stats = r.Stats()
	if err != nil {
		return nil, err
	}
	if err := r.Close(); err != nil {
		log.Warn("failed to close command log %s after replay: %v", path, err)
	}
	log.Info("Replay of command log %s finished: %d entries, %d blocks", path, res.Stats.Entries, res.Stats.Blocks)

	if c.dryRun {
		return res, nil
	}
	if res.MovedTo, err = wal.MoveAside(path, c.now()); err != nil {
		return nil, err
	}
	return res, nil
}
