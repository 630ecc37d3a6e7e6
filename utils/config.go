package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/cmdlog/utils/log"
)

const (
	defaultFlushInterval            = 500 * time.Millisecond
	defaultGroupCommitMaxBytes      = 1 * bytefmt.MEGABYTE
	defaultDiskUsageMonitorInterval = 10 * time.Minute
	defaultFilePattern              = "*.cmdlog"
)

// CommandLogConfig holds the knobs a command log writer consumes. It is a
// plain value: build it once at startup and pass it to OpenForAppend.
type CommandLogConfig struct {
	// GroupCommit packs pending entries into compressed blocks on flush.
	GroupCommit bool
	// FlushInterval is the period of the background flush loop.
	FlushInterval time.Duration
	// GroupCommitMaxBytes forces a flush once this many serialized bytes are
	// pending. Zero disables the size trigger.
	GroupCommitMaxBytes uint64
	// SyncOnAppend flushes every record as it is appended when group commit
	// is disabled.
	SyncOnAppend bool
	// FilePattern selects command logs under the root directory at recovery.
	FilePattern string
}

// DefaultCommandLogConfig is used for any field a config file leaves out.
func DefaultCommandLogConfig() CommandLogConfig {
	return CommandLogConfig{
		GroupCommit:         true,
		FlushInterval:       defaultFlushInterval,
		GroupCommitMaxBytes: defaultGroupCommitMaxBytes,
		SyncOnAppend:        true,
		FilePattern:         defaultFilePattern,
	}
}

type Config struct {
	RootDirectory            string
	LogLevel                 log.Level
	DiskUsageMonitorInterval time.Duration
	CommandLog               CommandLogConfig
}

// ParseConfig parses a YAML configuration file.
func ParseConfig(data []byte) (*Config, error) {
	var (
		err error
		aux struct {
			RootDirectory            string `yaml:"root_directory"`
			LogLevel                 string `yaml:"log_level"`
			DiskUsageMonitorInterval string `yaml:"disk_usage_monitor_interval"`
			CommandLog               struct {
				GroupCommit         string `yaml:"group_commit"`
				FlushInterval       string `yaml:"flush_interval"`
				GroupCommitMaxBytes string `yaml:"group_commit_max_bytes"`
				SyncOnAppend        string `yaml:"sync_on_append"`
				FilePattern         string `yaml:"file_pattern"`
			} `yaml:"command_log"`
		}
	)

	if err = yaml.Unmarshal(data, &aux); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if aux.RootDirectory == "" {
		return nil, errors.New("invalid root directory")
	}

	cfg := &Config{
		RootDirectory:            aux.RootDirectory,
		DiskUsageMonitorInterval: defaultDiskUsageMonitorInterval,
		CommandLog:               DefaultCommandLogConfig(),
	}

	level, ok := log.ParseLevel(aux.LogLevel)
	if !ok {
		log.Error("Invalid value: %v for log_level. Using info...", aux.LogLevel)
	}
	cfg.LogLevel = level

	if aux.DiskUsageMonitorInterval != "" {
		if cfg.DiskUsageMonitorInterval, err = parsePositiveDuration(aux.DiskUsageMonitorInterval); err != nil {
			return nil, fmt.Errorf("disk_usage_monitor_interval: %w", err)
		}
	}

	cl := aux.CommandLog
	if cl.GroupCommit != "" {
		groupCommit, err := strconv.ParseBool(cl.GroupCommit)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %v for command_log.group_commit: %w", cl.GroupCommit, err)
		}
		cfg.CommandLog.GroupCommit = groupCommit
	}

	if cl.FlushInterval != "" {
		if cfg.CommandLog.FlushInterval, err = parsePositiveDuration(cl.FlushInterval); err != nil {
			return nil, fmt.Errorf("command_log.flush_interval: %w", err)
		}
	}

	if cl.GroupCommitMaxBytes != "" {
		if cl.GroupCommitMaxBytes == "0" {
			cfg.CommandLog.GroupCommitMaxBytes = 0
		} else if cfg.CommandLog.GroupCommitMaxBytes, err = bytefmt.ToBytes(cl.GroupCommitMaxBytes); err != nil {
			return nil, fmt.Errorf("command_log.group_commit_max_bytes: %w", err)
		}
	}

	if cl.SyncOnAppend != "" {
		syncOnAppend, err := strconv.ParseBool(cl.SyncOnAppend)
		if err != nil {
			log.Error("Invalid value: %v for command_log.sync_on_append. Syncing every append...", cl.SyncOnAppend)
		} else {
			cfg.CommandLog.SyncOnAppend = syncOnAppend
		}
	}

	if cl.FilePattern != "" {
		cfg.CommandLog.FilePattern = cl.FilePattern
	}

	return cfg, nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %v", d)
	}
	return d, nil
}
