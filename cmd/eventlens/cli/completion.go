package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// completionTimeout is the maximum time allowed for completion requests.
// Kept short to avoid blocking the shell.
const completionTimeout = 3 * time.Second

// completePriorityArgs suggests cached digests for the `priority` command:
// open a minimal read-only handle to the backing store and filter its
// live state by the prefix already typed.
func completePriorityArgs(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	dir, err := cacheDirFromViper()
	if err != nil || dir == "" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	c, err := openCacheCoordinator(ctx, dir)
	if err != nil {
		// Don't show an error during completion - just return no suggestions.
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer c.Close()

	const maxCompletions = 50
	var completions []string
	for _, e := range c.CacheEntries() {
		digest := string(e.Digest)
		if strings.HasPrefix(digest, toComplete) {
			completions = append(completions, digest)
			if len(completions) >= maxCompletions {
				break
			}
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeEnqueueArgs completes `enqueue`'s path arguments with ordinary
// local file completion; no registry-style reference parsing applies here.
func completeEnqueueArgs(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveDefault
}
