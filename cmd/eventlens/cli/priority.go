package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eventlens/eventlens/core"
)

var priorityCmd = &cobra.Command{
	Use:   "priority <digests...>",
	Short: "Mark digests as priority-protected against eviction",
	Long: `Replaces the priority set with exactly <digests...>: every digest
listed is protected from CacheStore eviction as long as a non-priority
candidate remains, and every digest not listed loses that protection.`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completePriorityArgs,
	RunE:              runPriority,
}

func init() {
	rootCmd.AddCommand(priorityCmd)
}

func runPriority(_ *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	digests := make([]core.Digest, len(args))
	for i, a := range args {
		digests[i] = core.Digest(a)
	}
	c.SetPriority(digests)

	fmt.Printf("Priority set to %d digest(s)\n", len(digests))
	return nil
}
