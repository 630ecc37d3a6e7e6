package integrity

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/utils/pool"
)

const (
	usage   = "integrity"
	short   = "Check command logs for a damaged tail"
	long    = "This command scans command logs and reports how much of each one would be replayed"
	example = "cmdlog tool integrity --dir data --strict"

	// Flag descriptions.
	walFilePathDesc = "set the path of a single command log to evaluate"
	rootDirPathDesc = "set filesystem path of the directory containing the command logs to evaluate"
	patternDesc     = "set the glob pattern of command log file names under --dir"
	strictDesc      = "exit with an error if any log has a truncated or corrupt tail"
	parallelDesc    = "number of command logs evaluated concurrently"
)

var (
	// Available flags.
	walFilePath, rootDirPath, pattern string
	strict                            bool
	parallel                          int

	// Cmd is the integrity command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"ic", "integritycheck"},
		Example: example,
		RunE:    executeIntegrity,
	}

	errDamagedLog = errors.New("damaged command log")
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	// Parse flags.
	Cmd.Flags().StringVarP(&walFilePath, "walFile", "w", "", walFilePathDesc)
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	Cmd.Flags().StringVar(&pattern, "pattern", wal.DefaultFilePattern, patternDesc)
	Cmd.Flags().BoolVar(&strict, "strict", false, strictDesc)
	Cmd.Flags().IntVar(&parallel, "parallel", 1, parallelDesc)
}

// Report is the outcome of scanning one command log.
type Report struct {
	Path  string
	Mode  wal.BodyMode
	Stats executor.ReplayStats
}

// Damaged reports whether replay would drop bytes at the end of the file.
func (r *Report) Damaged() bool {
	return r.Stats.StopCause != nil
}

func executeIntegrity(cmd *cobra.Command, _ []string) error {
	var paths []string
	switch {
	case walFilePath != "":
		paths = []string{filepath.Clean(walFilePath)}
	case rootDirPath != "":
		finder, err := wal.NewFinder(os.ReadDir, pattern)
		if err != nil {
			return err
		}
		if paths, err = finder.Find(filepath.Clean(rootDirPath)); err != nil {
			return err
		}
	default:
		return errors.New("either --walFile or --dir is required")
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	damaged := 0
	for i, res := range checkAll(paths, parallel) {
		if res.err != nil {
			fmt.Fprintf(out, "%s: FATAL %v\n", paths[i], res.err)
			damaged++
			continue
		}
		printReport(out, res.report)
		if res.report.Damaged() {
			damaged++
		}
	}
	fmt.Fprintf(out, "checked %d command logs, %d damaged\n", len(paths), damaged)

	if strict && damaged > 0 {
		return fmt.Errorf("%d of %d: %w", damaged, len(paths), errDamagedLog)
	}
	return nil
}

type checkResult struct {
	report *Report
	err    error
}

// checkAll checks paths with up to parallel logs open at once. Results are
// returned in the order of paths.
func checkAll(paths []string, parallel int) []checkResult {
	index := make(map[string]int, len(paths))
	for i, path := range paths {
		index[path] = i
	}
	results := make([]checkResult, len(paths))
	p := pool.NewPool(parallel, func(path string) {
		report, err := Check(path)
		// each job writes only its own slot
		results[index[path]] = checkResult{report: report, err: err}
	})

	work := make(chan string)
	go func() {
		defer close(work)
		for _, path := range paths {
			work <- path
		}
	}()
	p.Work(work)
	p.Wait()
	return results
}

// Check replays the log at path without applying anything.
func Check(path string) (*Report, error) {
	r, err := executor.OpenForReplay(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for _, ok := r.Next(); ok; _, ok = r.Next() {
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return &Report{Path: path, Mode: r.Mode(), Stats: r.Stats()}, nil
}

func printReport(out io.Writer, r *Report) {
	s := r.Stats
	status := "OK"
	if r.Damaged() {
		status = "DAMAGED"
	}
	fmt.Fprintf(out, "%s: %s mode=%v entries=%d blocks=%d good=%s/%s",
		r.Path, status, r.Mode, s.Entries, s.Blocks,
		bytefmt.ByteSize(uint64(s.GoodOffset)), bytefmt.ByteSize(uint64(s.FileSize)))
	if r.Damaged() {
		fmt.Fprintf(out, " dropped=%dB cause=%v", s.FileSize-s.GoodOffset, s.StopCause)
	}
	fmt.Fprintln(out)
}
