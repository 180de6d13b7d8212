package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	eventlens "github.com/eventlens/eventlens"
	"github.com/eventlens/eventlens/cmd/eventlens/cli/config"
	"github.com/eventlens/eventlens/internal/devcollab"
)

// Cache command flags
var (
	cacheLong    bool
	clearConfirm bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the content-addressed artifact cache",
	Long: `Manage the local artifact cache.

The cache stores per-digest pipeline artifacts (face boxes, decoded
previews, thumbnails) keyed by content hash for faster subsequent access.
Use subcommands to inspect, clear, or prune the cache.

The cache directory can be specified with --cache-dir. If not specified,
the default location is $XDG_CACHE_HOME/eventlens.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long: `Display information about the artifact cache.

Shows the total size, entry count, and optionally detailed information
about each cached entry.

Examples:
  eventlens cache stats
  eventlens cache stats --long`,
	Args: cobra.NoArgs,
	RunE: runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached entries",
	Long: `Remove all entries from the artifact cache, including priority-protected
ones. Use --yes to skip confirmation.`,
	Args: cobra.NoArgs,
	RunE: runCacheClear,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one eviction tick against the budget",
	Long: `Run a single eviction tick: reclaims space until the store is at or
under its size budget, or until no entry remains. Priority entries are
evicted only once no non-priority entry is left.`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

func init() {
	cacheStatsCmd.Flags().BoolVarP(&cacheLong, "long", "l", false, "Show per-entry detail")
	cacheClearCmd.Flags().BoolVarP(&clearConfirm, "yes", "y", false, "Skip confirmation prompt")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheDirFromViper() (string, error) {
	dir := viper.GetString("cache.dir")
	if dir != "" {
		return dir, nil
	}
	return config.CacheDir()
}

// openCacheCoordinator wires a Coordinator scoped to a cache directory for
// the `cache` subcommands, independent of the pipeline collaborators used
// by `run`/`enqueue` (cache inspection never runs the pipeline).
func openCacheCoordinator(ctx context.Context, dir string) (*eventlens.Coordinator, error) {
	return eventlens.NewCoordinator(ctx,
		eventlens.WithCacheDir(dir),
		eventlens.WithCollaborators(
			devcollab.FakeDecoder{TempDir: os.TempDir()},
			devcollab.FixedDetector{},
			devcollab.NoopCropper{},
			&devcollab.MonotonicClock{},
			devcollab.OSFs{},
		),
	)
}

func runCacheStats(_ *cobra.Command, _ []string) error {
	dir, err := cacheDirFromViper()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	c, err := openCacheCoordinator(ctx, dir)
	if err != nil {
		return err
	}
	defer c.Close()

	st := c.Status()
	if st.Cache.Entries == 0 {
		fmt.Println("Cache is empty")
		return nil
	}

	fmt.Printf("Cache:   %s\n", dir)
	fmt.Printf("Size:    %s (%d bytes)\n", humanize.Bytes(uint64(st.Cache.Bytes)), st.Cache.Bytes)
	fmt.Printf("Budget:  %s (%.1f%% full)\n", humanize.Bytes(uint64(st.Cache.Budget)), st.Cache.Pct*100)
	fmt.Printf("Entries: %d\n", st.Cache.Entries)

	if cacheLong {
		entries := c.CacheEntries()
		fmt.Println()
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DIGEST\tSIZE\tFACES\tPRIORITY")
		for _, e := range entries {
			priority := "no"
			if e.IsPriority {
				priority = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
				truncateDigest(string(e.Digest)),
				humanize.Bytes(uint64(e.SizeBytes)),
				e.Artifact.FaceCount,
				priority)
		}
		tw.Flush()
	}

	return nil
}

func runCacheClear(_ *cobra.Command, _ []string) error {
	dir, err := cacheDirFromViper()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	c, err := openCacheCoordinator(ctx, dir)
	if err != nil {
		return err
	}
	defer c.Close()

	st := c.Status()
	if st.Cache.Entries == 0 {
		fmt.Println("Cache is already empty")
		return nil
	}

	if !clearConfirm {
		fmt.Printf("This will remove %d entries (%s) from the cache.\n",
			st.Cache.Entries, humanize.Bytes(uint64(st.Cache.Bytes)))
		fmt.Print("Continue? [y/N] ")

		var response string
		//nolint:errcheck // Empty input or EOF is treated as "no" - not an error
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	removed := c.ClearCache()
	fmt.Printf("Cleared %d entries (%s)\n", removed, humanize.Bytes(uint64(st.Cache.Bytes)))
	return nil
}

func runCachePrune(_ *cobra.Command, _ []string) error {
	dir, err := cacheDirFromViper()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	c, err := openCacheCoordinator(ctx, dir)
	if err != nil {
		return err
	}
	defer c.Close()

	result := c.PruneCache()
	if len(result.Digests) == 0 {
		fmt.Println("No entries to prune (store within budget or nothing evictable)")
		return nil
	}
	fmt.Printf("Removed %d entries (%s)\n", len(result.Digests), humanize.Bytes(uint64(result.BytesFreed)))

	st := c.Status()
	fmt.Printf("Remaining: %d entries (%s)\n", st.Cache.Entries, humanize.Bytes(uint64(st.Cache.Bytes)))
	return nil
}

// truncateDigest shortens a digest for display.
func truncateDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12] + "..."
}
