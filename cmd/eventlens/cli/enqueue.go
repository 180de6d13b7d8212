package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	eventlens "github.com/eventlens/eventlens"
	"github.com/eventlens/eventlens/core"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <paths...>",
	Short: "Submit paths to the worker pool and run them to completion",
	Long: `Submits <paths...> at the queue tail and blocks until every one of
them reaches a terminal state. This CLI holds no background daemon, so
each invocation owns an ephemeral in-process Coordinator; only the
on-disk cache persists across invocations.`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeEnqueueArgs,
	RunE:              runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(_ *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	sub := c.Subscribe(256)
	stop := c.Run()
	defer stop()

	paths := make([]core.FilePath, len(args))
	for i, a := range args {
		paths[i] = core.FilePath(a)
	}

	update, finish := newQueueProgress(len(paths), "Enqueuing")
	defer finish()

	var done int
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				switch ev.Kind {
				case core.TaskCompleted, core.AlreadyProcessed, core.TaskErrored, core.FileMissing:
					done++
					update(done)
					if done >= len(paths) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	c.Enqueue(paths, eventlens.PositionTail, false)

	<-drained
	fmt.Printf("Enqueued and processed %d path(s)\n", len(paths))
	return nil
}
