package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nvr-ai/go-annotator/video"
)

type processed struct {
	frame video.Frame
	res   frameResult
}

// streamConcurrent reads on one goroutine, processes on Workers goroutines and writes on
// one goroutine that restores frame order.
//
// A frame holds one semaphore unit from the moment it is read until it is written or
// released, so at most QueueSize+Workers decoded frames exist at any time.
func (r *run) streamConcurrent(ctx context.Context) error {
	workers := r.cfg.Pipeline.Workers
	queue := r.cfg.Pipeline.QueueSize
	sem := semaphore.NewWeighted(int64(queue + workers))

	jobs := make(chan video.Frame, queue)
	results := make(chan processed, queue)
	release := func(f video.Frame) {
		f.Close()
		sem.Release(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			f, err := r.source.Next(gctx)
			if err != nil {
				sem.Release(1)
				return r.endOfStream(err)
			}
			r.report.FramesRead++

			select {
			case jobs <- f:
			case <-gctx.Done():
				release(f)
				return gctx.Err()
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for f := range jobs {
				res, err := r.proc.process(gctx, f)
				if err != nil {
					release(f)
					return err
				}
				select {
				case results <- processed{frame: f, res: res}:
				case <-gctx.Done():
					release(f)
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		pending := make(map[int]processed)
		defer func() {
			for _, p := range pending {
				release(p.frame)
			}
		}()

		next := 0
		for p := range results {
			pending[p.frame.Index] = p
			for {
				q, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++

				r.account(q.frame.Index, q.res)
				err := r.write(q.frame)
				release(q.frame)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})

	err := g.Wait()

	// Frames still queued after a failure are released unwritten.
	for f := range jobs {
		release(f)
	}
	for p := range results {
		release(p.frame)
	}

	r.log.Debug().Int("workers", workers).Int("queue", queue).Msg("concurrent stream finished")
	return err
}
