package di

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/utils"
	"github.com/alpacahq/cmdlog/utils/log"
)

// ErrPartitionStarted is returned when a partition is started twice in the
// same container.
var ErrPartitionStarted = errors.New("partition already started")

type Container struct {
	cfg        *utils.Config
	absRootDir string
	recovery   *executor.CommandLogRecovery

	mu      sync.Mutex
	writers map[int]*executor.CommandLogWriter
	started map[int]bool
	wg      sync.WaitGroup
	// failures of background flush loops, one per failed partition
	errs        chan error
	monitorOnce sync.Once
}

func NewContainer(cfg *utils.Config) *Container {
	return &Container{
		cfg:     cfg,
		writers: make(map[int]*executor.CommandLogWriter),
		started: make(map[int]bool),
		errs:    make(chan error, 1),
	}
}

func (c *Container) Config() *utils.Config {
	return c.cfg
}

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}
	relRootDir := c.cfg.RootDirectory

	// rootDir is the absolute path to the command log directory.
	// e.g. rootDir = "/project/engine/data"
	rootDir, err := filepath.Abs(filepath.Clean(relRootDir))
	if err != nil {
		log.Error("Cannot take absolute path of root directory %s", err.Error())
	} else {
		log.Info("Root Directory: %s", rootDir)
		const ownerGroupAll = 0o770
		err = os.MkdirAll(rootDir, ownerGroupAll)
		if err != nil && !os.IsExist(err) {
			log.Error("Could not create root directory: %s", err.Error())
			panic(err)
		}
	}
	c.absRootDir = rootDir
	return c.absRootDir
}
