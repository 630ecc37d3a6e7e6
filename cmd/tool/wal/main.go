package wal

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/utils/log"
)

const (
	walUsage        = "wal"
	walShortDesc    = "Print the entries of a command log"
	walLongDesc     = "This command replays a command log read-only and prints its header and entries"
	walExample      = "cmdlog tool wal --walFile data/partition-0001.cmdlog --json"
	walFilePathDesc = "Path to the command log file"
	jsonDesc        = "print one JSON object per entry"
)

var (
	// Cmd is the wal command.
	Cmd = &cobra.Command{
		Use:     walUsage,
		Short:   walShortDesc,
		Long:    walLongDesc,
		Aliases: []string{"waldebugger", "dump"},
		Example: walExample,
		RunE:    executeWAL,
	}
	// walfilePath is the path to the command log.
	walfilePath string
	asJSON      bool

	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	// Parse flags.
	Cmd.Flags().StringVarP(&walfilePath, "walFile", "w", "", walFilePathDesc)
	_ = Cmd.MarkFlagRequired("walFile")
	Cmd.Flags().BoolVar(&asJSON, "json", false, jsonDesc)
}

type entryLine struct {
	Index        int           `json:"index"`
	TxnID        int64         `json:"txn_id"`
	ClientHandle int64         `json:"client_handle"`
	Timestamp    time.Time     `json:"timestamp"`
	ProcedureID  int32         `json:"procedure_id"`
	Procedure    string        `json:"procedure,omitempty"`
	Params       []interface{} `json:"params"`
}

func executeWAL(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	r, err := executor.OpenForReplay(filepath.Clean(walfilePath))
	if err != nil {
		return err
	}
	defer r.Close()

	out := cmd.OutOrStdout()
	if !asJSON {
		printHeader(out, r.Header())
	}
	return dump(out, r, asJSON)
}

func printHeader(out io.Writer, h *wal.Header) {
	fmt.Fprintf(out, "mode: %v\n", h.Mode())
	fmt.Fprintf(out, "procedures: %d\n", len(h.Procedures))
	for _, p := range h.Procedures {
		fmt.Fprintf(out, "  %6d  %s\n", p.ID, p.Name)
	}
}

func dump(out io.Writer, r *executor.CommandLogReader, asJSON bool) error {
	i := 0
	err := r.ForEach(func(e *wal.LogEntry) error {
		name, _ := r.ProcedureName(e.ProcedureID)
		if asJSON {
			line, err := json.Marshal(entryLine{
				Index:        i,
				TxnID:        e.TxnID,
				ClientHandle: e.ClientHandle,
				Timestamp:    time.Unix(0, e.Timestamp).UTC(),
				ProcedureID:  e.ProcedureID,
				Procedure:    name,
				Params:       e.Params,
			})
			if err != nil {
				return fmt.Errorf("marshal entry %d: %w", i, err)
			}
			if _, err := fmt.Fprintln(out, string(line)); err != nil {
				return err
			}
		} else if _, err := fmt.Fprintf(out, "%6d %s %s\n", i, name, e); err != nil {
			return err
		}
		i++
		return nil
	})
	if err != nil {
		return err
	}

	stats := r.Stats()
	if stats.StopCause != nil {
		log.Warn("%s: stopped after %d entries at offset %d of %d: %v",
			r.Path(), stats.Entries, stats.GoodOffset, stats.FileSize, stats.StopCause)
	}
	return nil
}
