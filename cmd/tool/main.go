package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/cmdlog/cmd/tool/integrity"
	"github.com/alpacahq/cmdlog/cmd/tool/wal"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified command log tool."
	toolExample   = "cmdlog tool wal --walFile <path> [flags]"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		Aliases:    []string{"t"},
		SuggestFor: []string{"wal", "integrity"},
		Example:    toolExample,
	}
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.AddCommand(integrity.Cmd)
	Cmd.AddCommand(wal.Cmd)
}
