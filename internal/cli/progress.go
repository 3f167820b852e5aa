package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
)

// Progress draws a progress bar as a batch run completes transactions. It
// implements engine.Observer.
type Progress struct {
	bar    *progressbar.ProgressBar
	failed int
	mu     sync.Mutex
}

// NewProgress creates a progress bar for total transactions writing to w.
func NewProgress(total int, w io.Writer) *Progress {
	return &Progress{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Matching transactions...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(w); err != nil {
					slog.Warn("Failed to write newline after progress bar", "error", err)
				}
			}),
		),
	}
}

// Observe advances the bar by one transaction.
func (p *Progress) Observe(o engine.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.Status() == model.StatusFailed {
		p.failed++
		p.bar.Describe(fmt.Sprintf("[cyan][bold]Matching transactions...[reset] [red]%d failed[reset]", p.failed))
	}
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar, e.g. after a cancelled run.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

// Failed returns the number of failed transactions seen so far.
func (p *Progress) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
