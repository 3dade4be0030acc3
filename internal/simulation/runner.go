package simulation

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/goalkeeper/internal/utils"
)

const (
	// maxWorkers caps the pool regardless of available parallelism so a
	// single large request cannot exhaust the host.
	maxWorkers = 16

	// chunksPerWorker targets 2-4 chunks per worker; 4 gives the scheduler
	// slack to balance uneven chunk durations.
	chunksPerWorker = 4

	// bytesPerTrial is a coarse per-trial memory estimate (terminal buffer
	// plus reservoir slot plus bookkeeping) used for the headroom check.
	bytesPerTrial = 64
)

// errMemoryPressure marks a chunk that could not be admitted because the
// host lacks memory headroom. The runner retries once at half size.
var errMemoryPressure = errors.New("insufficient memory headroom for chunk")

// MemoryChecker reports available memory. Swapped for a stub in tests.
type MemoryChecker interface {
	AvailableBytes() (uint64, error)
}

type systemMemory struct{}

func (systemMemory) AvailableBytes() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.Available, nil
}

// Runner fans a large trial count out across a bounded worker pool and
// merges the partial accumulators. Chunk seeds depend only on the chunk
// index, so results are reproducible regardless of worker scheduling.
type Runner struct {
	kernel       *Kernel
	workers      int
	chunkSize    int
	reservoirCap int
	memory       MemoryChecker
	onProgress   func(completedChunks, totalChunks int)
	log          zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithChunkSize sets a fixed chunk size instead of the derived default.
func WithChunkSize(n int) RunnerOption {
	return func(r *Runner) { r.chunkSize = n }
}

// WithMemoryChecker replaces the system memory probe.
func WithMemoryChecker(m MemoryChecker) RunnerOption {
	return func(r *Runner) { r.memory = m }
}

// WithProgress registers a callback invoked as chunks complete.
func WithProgress(fn func(completedChunks, totalChunks int)) RunnerOption {
	return func(r *Runner) { r.onProgress = fn }
}

// NewRunner creates a parallel runner around a kernel.
func NewRunner(kernel *Kernel, log zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		kernel:       kernel,
		reservoirCap: DefaultReservoirSize,
		memory:       systemMemory{},
		log:          log.With().Str("component", "parallel_runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.NumCPU()
	}
	if r.workers > maxWorkers {
		r.workers = maxWorkers
	}
	return r
}

type chunkJob struct {
	index int
	seed  uint64
	size  int
}

type chunkResult struct {
	index int
	acc   *Accumulator
	err   error
}

// Run executes the request across the worker pool. Cancellation is
// cooperative: workers check the context between chunks, and results of
// chunks already executing when the context is cancelled are discarded.
func (r *Runner) Run(ctx context.Context, req *Request) (*Result, error) {
	return r.run(ctx, req, r.onProgress)
}

// RunWithProgress is Run with a per-call progress hook, overriding any
// hook set at construction.
func (r *Runner) RunWithProgress(ctx context.Context, req *Request, onProgress func(completedChunks, totalChunks int)) (*Result, error) {
	if onProgress == nil {
		onProgress = r.onProgress
	}
	return r.run(ctx, req, onProgress)
}

func (r *Runner) run(ctx context.Context, req *Request, onProgress func(completedChunks, totalChunks int)) (*Result, error) {
	if req.TriviallySatisfied() {
		return NewTrivialResult(req), nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	defer utils.OperationTimer("parallel_simulation", r.log)()

	jobs := r.splitChunks(req)
	totalChunks := len(jobs)

	r.log.Debug().
		Str("goal_id", req.GoalID).
		Int("trials", req.TrialCount).
		Int("chunks", totalChunks).
		Int("workers", r.workers).
		Msg("Dispatching simulation chunks")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan chunkJob, totalChunks)
	resultCh := make(chan chunkResult, totalChunks)

	workers := r.workers
	if totalChunks < workers {
		workers = totalChunks
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if runCtx.Err() != nil {
					resultCh <- chunkResult{index: job.index, err: runCtx.Err()}
					continue
				}
				acc, err := r.runChunkGuarded(req, job)
				resultCh <- chunkResult{index: job.index, acc: acc, err: err}
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	accs := make([]*Accumulator, totalChunks)
	completed := 0
	var firstErr error
	for result := range resultCh {
		if result.err != nil {
			if firstErr == nil && !errors.Is(result.err, context.Canceled) {
				firstErr = result.err
			}
			cancel() // Abandon outstanding chunks
			continue
		}
		accs[result.index] = result.acc
		completed++
		if onProgress != nil {
			onProgress(completed, totalChunks)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Fold in chunk-index order so floating-point summation is stable
	// across runs regardless of completion order.
	merged := NewAccumulator(r.reservoirCap, req.Seed)
	for _, acc := range accs {
		if acc == nil {
			return nil, context.Canceled
		}
		merged.Merge(acc)
	}

	return Reduce(req, merged, r.kernel.discardBudget)
}

// splitChunks derives the chunk layout and per-chunk seeds for a request.
func (r *Runner) splitChunks(req *Request) []chunkJob {
	chunkSize := r.chunkSize
	if chunkSize <= 0 {
		chunkSize = (req.TrialCount + r.workers*chunksPerWorker - 1) / (r.workers * chunksPerWorker)
		if chunkSize < 1 {
			chunkSize = 1
		}
	}

	var jobs []chunkJob
	remaining := req.TrialCount
	for index := 0; remaining > 0; index++ {
		size := chunkSize
		if size > remaining {
			size = remaining
		}
		jobs = append(jobs, chunkJob{
			index: index,
			seed:  ChunkSeed(req.Seed, index),
			size:  size,
		})
		remaining -= size
	}
	return jobs
}

// runChunkGuarded admits a chunk against available memory, retrying once at
// half the chunk size before surfacing a fatal resource error.
func (r *Runner) runChunkGuarded(req *Request, job chunkJob) (*Accumulator, error) {
	if err := r.checkHeadroom(job.size); err == nil {
		return r.kernel.RunChunk(req, job.seed, job.size, r.reservoirCap), nil
	}

	half := job.size / 2
	if half < 1 {
		half = 1
	}

	r.log.Warn().
		Int("chunk", job.index).
		Int("size", job.size).
		Int("retry_size", half).
		Msg("Memory pressure, retrying chunk at half size")

	if err := r.checkHeadroom(half); err != nil {
		return nil, &ResourceExhaustionError{ChunkIndex: job.index, ChunkSize: job.size, Cause: err}
	}

	// Two half-chunks preserve the trial count; the second half uses a
	// seed derived from the chunk seed so draws stay independent.
	first := r.kernel.RunChunk(req, job.seed, half, r.reservoirCap)
	second := r.kernel.RunChunk(req, splitmix64(job.seed), job.size-half, r.reservoirCap)
	first.Merge(second)
	return first, nil
}

// checkHeadroom verifies the host has room for a chunk of the given size.
func (r *Runner) checkHeadroom(trials int) error {
	available, err := r.memory.AvailableBytes()
	if err != nil {
		// A failed probe should not block simulations outright.
		r.log.Debug().Err(err).Msg("Memory probe unavailable, admitting chunk")
		return nil
	}

	estimate := uint64(trials) * bytesPerTrial
	if estimate*uint64(r.workers) > available {
		return errMemoryPressure
	}
	return nil
}
