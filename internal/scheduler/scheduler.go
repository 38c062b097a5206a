package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stager/internal/transfer"
)

type Job struct {
	Route string
	URL   string
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, route string) (*transfer.Outcome, error)
}

type Result struct {
	Job     Job
	Outcome *transfer.Outcome
	Err     error
}

// Run executes the jobs on numWorkers workers and returns results in job
// order. Jobs not yet started when ctx ends are reported with ctx's error.
func Run(ctx context.Context, jobs []Job, numWorkers int, fetcher Fetcher) []Result {
	results := make([]Result, len(jobs))
	jobCh := make(chan int, len(jobs))
	for i := range jobs {
		jobCh <- i
	}
	close(jobCh)

	numWorkers = max(1, min(numWorkers, len(jobs)))
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processJobs(ctx, workerID, jobs, jobCh, results, fetcher)
		}(i)
	}
	wg.Wait()
	return results
}

// processJobs handles job processing for a worker
func processJobs(ctx context.Context, workerID int, jobs []Job, jobCh <-chan int, results []Result, fetcher Fetcher) {
	for idx := range jobCh {
		job := jobs[idx]
		results[idx].Job = job
		if err := ctx.Err(); err != nil {
			results[idx].Err = err
			continue
		}
		log.Debug().Str("op", "scheduler/worker").Int("worker", workerID).Msgf("starting %s job for %s", job.Route, job.URL)
		results[idx].Outcome, results[idx].Err = fetcher.Fetch(ctx, job.URL, job.Route)
	}
}
