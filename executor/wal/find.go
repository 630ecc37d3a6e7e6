package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/alpacahq/cmdlog/utils/log"
)

// DefaultFilePattern matches the file names produced by CommandLogPath.
const DefaultFilePattern = "*.cmdlog"

type Finder struct {
	dirRead func(name string) ([]os.DirEntry, error)
	pattern glob.Glob
}

// NewFinder compiles pattern (gobwas/glob syntax, matched against the base
// file name). An empty pattern selects DefaultFilePattern.
func NewFinder(dirRead func(name string) ([]os.DirEntry, error), pattern string) (*Finder, error) {
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid command log file pattern %q: %w", pattern, err)
	}
	return &Finder{dirRead: dirRead, pattern: g}, nil
}

// Find returns all absolute paths to command log files directly under the
// directory, sorted by name.
func (f *Finder) Find(dir string) ([]string, error) {
	var ret []string
	files, err := f.dirRead(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read the directory %s: %w", dir, err)
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		filename := file.Name()
		if !f.pattern.Match(filename) {
			continue
		}

		log.Debug("found a command log: %s", filename)
		ret = append(ret, filepath.Join(dir, filename))
	}
	sort.Strings(ret)
	return ret, nil
}
