package di

import (
	"context"
	"fmt"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/metrics"
	"github.com/alpacahq/cmdlog/utils/log"
)

func (c *Container) GetCommandLogRecovery() *executor.CommandLogRecovery {
	if c.recovery != nil {
		return c.recovery
	}
	recovery, err := executor.NewCommandLogRecovery(c.cfg.CommandLog.FilePattern, false)
	if err != nil {
		log.Error("Unable to create command log recovery. err=" + err.Error())
		panic(fmt.Sprintf("unable to create command log recovery: %v", err))
	}
	c.recovery = recovery
	return c.recovery
}

// RecoverPartition replays whatever the previous run left in the log of
// partitionID and moves the file aside.
func (c *Container) RecoverPartition(partitionID int, apply executor.ReplayFunc) (*executor.RecoveryResult, error) {
	path := executor.CommandLogPath(c.GetAbsRootDir(), partitionID)
	return c.GetCommandLogRecovery().Recover(path, apply)
}

// GetCommandLogWriter returns the open writer of partitionID, creating the log
// file on first use.
func (c *Container) GetCommandLogWriter(partitionID int, procs wal.ProcedureTable) (*executor.CommandLogWriter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.writers[partitionID]; ok {
		return w, nil
	}
	w, err := executor.OpenForAppend(executor.CommandLogPath(c.GetAbsRootDir(), partitionID), c.cfg.CommandLog, procs)
	if err != nil {
		return nil, err
	}
	c.writers[partitionID] = w
	return w, nil
}

// StartPartition recovers the log of a partition, opens a fresh one and
// starts its background flush loop. The loop stops when ctx is done or the
// writer is closed. A partition can be started once per container; the log
// of a running partition is never replayed.
func (c *Container) StartPartition(ctx context.Context, partitionID int, procs wal.ProcedureTable,
	apply executor.ReplayFunc,
) (*executor.CommandLogWriter, error) {
	c.mu.Lock()
	_, open := c.writers[partitionID]
	if open || c.started[partitionID] {
		c.mu.Unlock()
		return nil, fmt.Errorf("partition %d: %w", partitionID, ErrPartitionStarted)
	}
	c.started[partitionID] = true
	c.mu.Unlock()

	w, err := c.startPartition(partitionID, procs, apply)
	if err != nil {
		c.mu.Lock()
		delete(c.started, partitionID)
		c.mu.Unlock()
		return nil, err
	}

	c.monitorOnce.Do(func() {
		go metrics.StartDiskUsageMonitor(ctx, metrics.TotalDiskUsageBytes, c.GetAbsRootDir(),
			c.cfg.DiskUsageMonitorInterval)
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := w.Run(ctx); err != nil {
			select {
			case c.errs <- fmt.Errorf("partition %d: %w", partitionID, err):
			default:
			}
		}
	}()
	return w, nil
}

func (c *Container) startPartition(partitionID int, procs wal.ProcedureTable,
	apply executor.ReplayFunc,
) (*executor.CommandLogWriter, error) {
	res, err := c.RecoverPartition(partitionID, apply)
	if err != nil {
		return nil, fmt.Errorf("recover partition %d: %w", partitionID, err)
	}
	if res.Stats.StopCause != nil {
		log.Warn("partition %d: replayed %d entries before a damaged tail", partitionID, res.Stats.Entries)
	}

	w, err := c.GetCommandLogWriter(partitionID, procs)
	if err != nil {
		return nil, fmt.Errorf("open partition %d: %w", partitionID, err)
	}
	return w, nil
}

// Errors delivers the first flush failure of any partition. A partition whose
// log failed must stop acknowledging transactions.
func (c *Container) Errors() <-chan error {
	return c.errs
}

// Shutdown closes every writer, flushing what is pending, and waits for the
// flush loops to notice. It does not require the contexts given to
// StartPartition to be cancelled.
func (c *Container) Shutdown() error {
	c.mu.Lock()
	var firstErr error
	for id, w := range c.writers {
		if err := w.Close(); err != nil {
			log.Error("failed to close command log of partition %d: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(c.writers, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
	log.Info("command logs closed")
	return firstErr
}
