// Package batch evaluates independent bounce queries on a fixed pool of
// goroutines.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/metrics"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// Estimator runs single bounce queries. *bounce.Estimator implements it.
type Estimator interface {
	BouncePeriod(ctx context.Context, p spacetime.Point, in maginput.Input, energies []float64, opts ...bounce.Option) (bounce.Result, error)
	MirrorPointAltitude(ctx context.Context, p spacetime.Point, in maginput.Input, r0 float64) (float64, error)
}

// Query is one bounce-period evaluation.
type Query struct {
	Point    spacetime.Point
	Input    maginput.Input
	Energies []float64 // keV
	Options  []bounce.Option
}

// Result pairs a query's outcome with its error. Exactly one is meaningful.
type Result struct {
	Result bounce.Result
	Err    error
}

// AltitudeQuery is one mirror-altitude evaluation.
type AltitudeQuery struct {
	Point           spacetime.Point
	Input           maginput.Input
	ReferenceRadius float64 // Re
}

// AltitudeResult pairs an altitude (km) with its error.
type AltitudeResult struct {
	Altitude float64
	Err      error
}

// Pool manages a fixed number of goroutines for parallel bounce queries.
type Pool struct {
	est     Estimator
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool with the given number of workers (at least one).
func NewPool(est Estimator, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	metrics.SetBatchWorkers(workers)
	return &Pool{est: est, workers: workers, logger: logger}
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// BouncePeriods evaluates all queries and returns one result per query, in
// input order. Queries not started before ctx is done get ctx's error.
func (p *Pool) BouncePeriods(ctx context.Context, queries []Query) []Result {
	out := make([]Result, len(queries))
	start := time.Now()
	failed := p.run(ctx, len(queries), func(i int) error {
		q := queries[i]
		res, err := p.est.BouncePeriod(ctx, q.Point, q.Input, q.Energies, q.Options...)
		out[i] = Result{Result: res, Err: err}
		return err
	}, func(i int, err error) {
		out[i] = Result{Err: err}
	})

	p.logger.Debug("bounce batch complete",
		"queries", len(queries),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// MirrorAltitudes evaluates all altitude queries in input order.
func (p *Pool) MirrorAltitudes(ctx context.Context, queries []AltitudeQuery) []AltitudeResult {
	out := make([]AltitudeResult, len(queries))
	p.run(ctx, len(queries), func(i int) error {
		q := queries[i]
		alt, err := p.est.MirrorPointAltitude(ctx, q.Point, q.Input, q.ReferenceRadius)
		out[i] = AltitudeResult{Altitude: alt, Err: err}
		return err
	}, func(i int, err error) {
		out[i] = AltitudeResult{Err: err}
	})
	return out
}

// run feeds indices 0..n-1 to the workers. Every index reaches either eval
// or skip; each writes only its own slot so no further locking is needed.
// It returns the number of failed jobs.
func (p *Pool) run(ctx context.Context, n int, eval func(i int) error, skip func(i int, err error)) int {
	if n == 0 {
		return 0
	}

	jobs := make(chan int, p.workers*2)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	workers := min(p.workers, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					skip(i, err)
				} else if err := eval(i); err == nil {
					continue
				}
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			for j := i; j < n; j++ {
				skip(j, err)
			}
			mu.Lock()
			failed += n - i
			mu.Unlock()
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if failed > 0 {
		p.logger.Warn("batch queries failed",
			"failed", failed,
			"total", n,
		)
	}
	return failed
}
