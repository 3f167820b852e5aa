package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/tally/internal/model"
)

// BatchOptions configures MatchAll.
type BatchOptions struct {
	Observer Observer // Optional; receives every outcome as it completes
	Workers  int      // Number of parallel workers
	FailFast bool     // Stop on the first rule error instead of recording it
}

// DefaultBatchOptions returns sensible defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Workers: 4}
}

// Outcome is the result of matching one transaction in a batch.
type Outcome struct {
	Err         error
	Result      *model.MatchResult
	Transaction *model.Transaction
	Index       int
	Duration    time.Duration
}

// Status classifies the outcome for reporting.
func (o Outcome) Status() model.ClassificationStatus {
	return model.StatusOf(o.Result, o.Err)
}

// Classification converts the outcome into a storable record.
func (o Outcome) Classification() model.Classification {
	c := model.Classification{
		ClassifiedAt: time.Now(),
		Result:       o.Result,
		Status:       o.Status(),
	}
	if o.Transaction != nil {
		c.Transaction = *o.Transaction
	}
	if o.Err != nil {
		c.Error = o.Err.Error()
	}
	return c
}

// Observer is notified as each transaction finishes. Implementations must be
// safe for concurrent use.
type Observer interface {
	Observe(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

// Observe calls f(o).
func (f ObserverFunc) Observe(o Outcome) { f(o) }

// Observers fans each outcome out to several observers in order.
type Observers []Observer

// Observe calls every non-nil observer.
func (list Observers) Observe(o Outcome) {
	for _, obs := range list {
		if obs != nil {
			obs.Observe(o)
		}
	}
}

// BatchSummary contains statistics about a batch run.
type BatchSummary struct {
	Total          int
	Categorized    int
	TaggedOnly     int
	Unmatched      int
	Failed         int
	Travel         int
	ProcessingTime time.Duration
}

// Summarize tallies outcomes by status.
func Summarize(outcomes []Outcome, elapsed time.Duration) BatchSummary {
	s := BatchSummary{Total: len(outcomes), ProcessingTime: elapsed}
	for _, o := range outcomes {
		switch o.Status() {
		case model.StatusCategorized:
			s.Categorized++
		case model.StatusTagged:
			s.TaggedOnly++
		case model.StatusFailed:
			s.Failed++
		default:
			s.Unmatched++
		}
		if o.Result != nil && o.Result.Travel {
			s.Travel++
		}
	}
	return s
}

// MatchAll matches txns in parallel. Outcomes are returned in input order.
// Rule errors are recorded per transaction unless FailFast is set, in which
// case the first one is returned. Cancelling ctx stops the remaining work.
func (e *Engine) MatchAll(ctx context.Context, txns []model.Transaction, opts BatchOptions) ([]Outcome, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	outcomes := make([]Outcome, len(txns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	start := time.Now()
	for i := range txns {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			began := time.Now()
			result, err := e.Match(&txns[i])
			o := Outcome{
				Index:       i,
				Transaction: &txns[i],
				Result:      result,
				Err:         err,
				Duration:    time.Since(began),
			}
			outcomes[i] = o
			if opts.Observer != nil {
				opts.Observer.Observe(o)
			}
			if err != nil {
				if opts.FailFast {
					return err
				}
				slog.Warn("Failed to match transaction",
					"id", txns[i].ID,
					"description", txns[i].Description,
					"error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}

	slog.Debug("Batch matched",
		"transactions", len(txns),
		"workers", opts.Workers,
		"elapsed", time.Since(start))
	return outcomes, nil
}
