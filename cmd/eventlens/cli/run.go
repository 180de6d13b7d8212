package cli

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	eventlens "github.com/eventlens/eventlens"
	"github.com/eventlens/eventlens/core"
)

// imageExtensions is the set of file extensions `run` considers images.
// Matches the RAW set a PipelineWorker recognizes plus the common
// non-RAW formats the pipeline also accepts.
var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".tif": {}, ".tiff": {},
	".nef": {}, ".cr2": {}, ".arw": {}, ".raw": {},
}

var runCmd = &cobra.Command{
	Use:   "run <dir>",
	Short: "Walk a directory once, enqueue every image, and run to completion",
	Long: `Walks <dir> once (no file watcher - this CLI does not track filesystem
changes after the walk, per the pipeline's non-goals), enqueues every image
file it finds, and blocks showing a progress count until every enqueued
path has reported a terminal event.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, args []string) error {
	root := args[0]

	var paths []core.FilePath
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, core.FilePath(path))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	if len(paths) == 0 {
		fmt.Println("No image files found")
		return nil
	}

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

	update, finish := newQueueProgress(len(paths), "Processing")
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
	fmt.Printf("Processed %d paths\n", done)
	return nil
}
