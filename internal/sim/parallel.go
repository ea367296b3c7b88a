package sim

import (
	"context"
	"fmt"
	"runtime"

	"github.com/san-kum/keystone/internal/dynamo"
	"golang.org/x/sync/errgroup"
)

// Sequential runs jobs one after another on the calling goroutine.
type Sequential struct{}

func (Sequential) Run(ctx context.Context, jobs []Job) ([]dynamo.State, error) {
	results := make([]dynamo.State, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := job(ctx)
		if err != nil {
			return nil, err
		}
		results[i] = out
	}
	return results, nil
}

// Pool runs jobs on a fixed number of goroutines. The first failure cancels
// the remaining jobs and is returned.
type Pool struct {
	workers int
}

// NewPool returns a pool of the given size; workers <= 0 uses every CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Run(ctx context.Context, jobs []Job) ([]dynamo.State, error) {
	results := make([]dynamo.State, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := job(ctx)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// NewRunner picks Sequential for one worker and a Pool otherwise.
func NewRunner(workers int) Runner {
	if workers == 1 {
		return Sequential{}
	}
	return NewPool(workers)
}

func (p *Pool) String() string { return fmt.Sprintf("pool(%d)", p.workers) }

func (Sequential) String() string { return "sequential" }
