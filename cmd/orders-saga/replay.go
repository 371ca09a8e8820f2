package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var (
	showEvents bool

	replayCmd = &cobra.Command{
		Use:   "replay [aggregateId]",
		Short: "Rebuild an aggregate's state from the event store",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print event counts per type",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
)

func init() {
	replayCmd.Flags().BoolVar(&showEvents, "events", false, "also print the events replayed")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openEventStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	aggregateID := args[0]
	state, err := store.RebuildAggregateState(ctx, aggregateID)
	if err != nil {
		return err
	}

	out := map[string]any{
		"aggregateId":  aggregateID,
		"rebuiltState": state,
	}
	if showEvents {
		events, err := store.GetEventsByAggregateID(ctx, aggregateID)
		if err != nil {
			return err
		}
		out["events"] = events
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openEventStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetEventStatistics(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), stats)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
