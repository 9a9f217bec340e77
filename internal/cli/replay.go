package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/eventstore"
	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().String("event-db", "", "Path to the SQLite graph event store (default: ~/.safeboundary/events.db)")
}

var replayCmd = &cobra.Command{
	Use:   "replay [rid]",
	Short: "Rebuild the requirement graph from the event store",
	Long: "Loads persisted graph events, replays them into an empty graph and\n" +
		"prints the resulting snapshot. With a requirement ID only that node\n" +
		"and its events are printed.",
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	store, err := eventstore.Open(cfg.EventDB)
	if err != nil {
		return err
	}
	defer store.Close()

	var events []model.GraphEvent
	if len(args) == 1 {
		events, err = store.LoadRID(cmd.Context(), args[0])
	} else {
		events, err = store.Load(cmd.Context())
	}
	if err != nil {
		return err
	}
	if len(args) == 1 && len(events) == 0 {
		return fmt.Errorf("no events for requirement %s", args[0])
	}

	g := graph.New(logger, nil)
	if err := g.Replay(events); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	out, err := json.MarshalIndent(g.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
