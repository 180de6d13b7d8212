package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a {pool, window, cache} snapshot",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	st := c.Status()

	fmt.Println("Pool:")
	fmt.Printf("  queued:      %d\n", st.Pool.Queued)
	fmt.Printf("  in flight:   %d\n", st.Pool.InFlight)
	fmt.Printf("  max workers: %d\n", st.Pool.MaxWorkers)
	fmt.Printf("  paused:      %v\n", st.Pool.Paused)

	fmt.Println("Window:")
	fmt.Printf("  ready: %d / %d\n", st.Ready, st.Max)
	fmt.Printf("  paused: %v\n", st.Paused)

	fmt.Println("Cache:")
	fmt.Printf("  entries: %d\n", st.Cache.Entries)
	fmt.Printf("  size:    %s (%.1f%% of %s budget)\n",
		humanize.Bytes(uint64(st.Cache.Bytes)), st.Cache.Pct*100, humanize.Bytes(uint64(st.Cache.Budget)))

	return nil
}
