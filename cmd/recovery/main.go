package recovery

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/internal/di"
	"github.com/alpacahq/cmdlog/utils"
	"github.com/alpacahq/cmdlog/utils/log"
)

const (
	usage                 = "recover"
	short                 = "Replay the command logs left by a previous run"
	long                  = "This command replays every command log under the root directory and moves replayed logs aside"
	example               = "cmdlog recover --config <path> [--dry-run]"
	defaultConfigFilePath = "./cmdlog.yml"
	configDesc            = "set the path for the cmdlog YAML configuration file"
	dryRunDesc            = "replay without moving or removing any file"
)

var (
	// Cmd is the recover command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"replay", "restore"},
		Example:    example,
		RunE:       executeRecover,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
	dryRun         bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
	Cmd.Flags().BoolVar(&dryRun, "dry-run", false, dryRunDesc)
}

func executeRecover(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args(=only the filepath to the config at the moment) are correct
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)
	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	log.SetLevel(config.LogLevel)

	c := di.NewContainer(config)
	recovery := c.GetCommandLogRecovery()
	if dryRun {
		if recovery, err = executor.NewCommandLogRecovery(config.CommandLog.FilePattern, true); err != nil {
			return err
		}
	}

	counts := newProcedureCounts()
	results, err := recovery.RecoverDir(c.GetAbsRootDir(), counts.apply)
	out := cmd.OutOrStdout()
	for _, res := range results {
		printResult(out, res)
	}
	counts.print(out)
	if err != nil {
		return fmt.Errorf("recovery aborted: %w", err)
	}
	return nil
}

// procedureCounts tallies replayed entries per procedure name. The execution
// engine is not part of this tool, so replayed entries are only counted.
type procedureCounts map[string]int

func newProcedureCounts() procedureCounts {
	return procedureCounts{}
}

func (p procedureCounts) apply(path string, h *wal.Header, e *wal.LogEntry) error {
	name, ok := h.Procedures.Lookup(e.ProcedureID)
	if !ok {
		return fmt.Errorf("txn %d: procedure %d: %w", e.TxnID, e.ProcedureID, wal.ErrUnknownProcedure)
	}
	log.Debug("%s: %v", path, e)
	p[name]++
	return nil
}

func (p procedureCounts) print(out io.Writer) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-32s %d\n", name, p[name])
	}
}

func printResult(out io.Writer, res *executor.RecoveryResult) {
	switch {
	case res.Removed:
		fmt.Fprintf(out, "%s: removed (no header)\n", res.Path)
	case res.Stats.StopCause != nil:
		fmt.Fprintf(out, "%s: replayed %d entries, dropped %d bytes (%v) -> %s\n", res.Path,
			res.Stats.Entries, res.Stats.FileSize-res.Stats.GoodOffset, res.Stats.StopCause, res.MovedTo)
	default:
		fmt.Fprintf(out, "%s: replayed %d entries -> %s\n", res.Path, res.Stats.Entries, res.MovedTo)
	}
}
