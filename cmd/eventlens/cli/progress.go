package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// progressMode returns the configured progress mode: "auto", "tty", or "plain".
func progressMode() string {
	mode := viper.GetString("progress")
	switch mode {
	case "auto", "tty", "plain":
		return mode
	default:
		return "auto"
	}
}

// shouldShowProgress returns true if progress bars should be displayed.
func shouldShowProgress() bool {
	mode := progressMode()

	if mode == "plain" {
		return false
	}
	if mode == "tty" {
		return true
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// charmProgress wraps the charmbracelet progress bar for count-based
// operations (queue drain progress, not byte transfer).
type charmProgress struct {
	bar         progress.Model
	description string
	total       int
}

// newCharmProgress creates a new charmbracelet progress bar.
func newCharmProgress(total int, description string) *charmProgress {
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)

	return &charmProgress{
		bar:         bar,
		description: description,
		total:       total,
	}
}

// render outputs the progress bar to stderr.
func (p *charmProgress) render(done int) {
	var percent float64
	if p.total > 0 {
		percent = float64(done) / float64(p.total)
	}

	fmt.Fprintf(os.Stderr, "\r\033[K%s %s %d/%d",
		p.description,
		p.bar.ViewAs(percent),
		done,
		p.total,
	)
}

// finish completes the progress bar display.
func (p *charmProgress) finish() {
	fmt.Fprintln(os.Stderr)
}

// newQueueProgress creates a progress bar tracking how many of total
// enqueued paths have reached a terminal state, or a no-op bar if progress
// should not be shown (piped output, --progress plain).
func newQueueProgress(total int, description string) (update func(done int), finish func()) {
	if !shouldShowProgress() || total == 0 {
		return func(int) {}, func() {}
	}

	bar := newCharmProgress(total, description)
	return bar.render, bar.finish
}
