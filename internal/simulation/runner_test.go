package simulation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMemory struct {
	available uint64
}

func (m stubMemory) AvailableBytes() (uint64, error) {
	return m.available, nil
}

func TestRunner_MatchesKernelWithinTolerance(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())
	runner := NewRunner(kernel, zerolog.Nop(), WithWorkers(4))

	req := testRequest()
	req.TrialCount = 8000

	parallel, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	direct, err := kernel.Run(req)
	require.NoError(t, err)

	// Same total trial count with an equivalent seeding scheme: aggregates
	// agree within sampling tolerance, not bitwise.
	assert.InDelta(t, direct.SuccessProbability, parallel.SuccessProbability, 0.05)
	assert.InDelta(t, direct.PartialProbability, parallel.PartialProbability, 0.05)
	assert.InEpsilon(t, direct.MeanTerminal, parallel.MeanTerminal, 0.10)
}

func TestRunner_Deterministic(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())
	req := testRequest()
	req.TrialCount = 4000

	first, err := NewRunner(kernel, zerolog.Nop(), WithWorkers(4), WithChunkSize(500)).Run(context.Background(), req)
	require.NoError(t, err)

	// A different worker count changes scheduling but not chunk seeds.
	second, err := NewRunner(kernel, zerolog.Nop(), WithWorkers(2), WithChunkSize(500)).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.SuccessProbability, second.SuccessProbability)
	assert.Equal(t, first.MeanTerminal, second.MeanTerminal)
	assert.Equal(t, first.P50, second.P50)
}

func TestRunner_ChunkLayout(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())
	runner := NewRunner(kernel, zerolog.Nop(), WithWorkers(4), WithChunkSize(300))

	req := testRequest()
	req.TrialCount = 1000

	jobs := runner.splitChunks(req)
	require.Len(t, jobs, 4)

	total := 0
	for _, job := range jobs {
		total += job.size
	}
	assert.Equal(t, 1000, total)
	assert.Equal(t, 100, jobs[3].size) // Remainder chunk

	// Seeds derive from the index, not from scheduling.
	assert.Equal(t, ChunkSeed(req.Seed, 2), jobs[2].seed)
}

func TestRunner_Progress(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())

	var calls atomic.Int32
	var lastTotal atomic.Int32
	runner := NewRunner(kernel, zerolog.Nop(),
		WithWorkers(2),
		WithChunkSize(500),
		WithProgress(func(done, total int) {
			calls.Add(1)
			lastTotal.Store(int32(total))
		}),
	)

	req := testRequest()
	req.TrialCount = 2000

	_, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int32(4), lastTotal.Load())
}

func TestRunner_Cancellation(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())
	runner := NewRunner(kernel, zerolog.Nop(), WithWorkers(2), WithChunkSize(100))

	req := testRequest()
	req.TrialCount = 200_000
	req.HorizonYears = 40

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := runner.Run(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunner_MemoryPressureRetriesHalfChunk(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())

	// Headroom admits half-size chunks but not full ones:
	// full chunk estimate = 1000 trials * 64 B * 2 workers = 128000.
	runner := NewRunner(kernel, zerolog.Nop(),
		WithWorkers(2),
		WithChunkSize(1000),
		WithMemoryChecker(stubMemory{available: 100_000}),
	)

	req := testRequest()
	req.TrialCount = 2000

	result, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2000, result.TrialCount)
}

func TestRunner_ResourceExhaustionFatal(t *testing.T) {
	kernel := NewKernel(zerolog.Nop())

	runner := NewRunner(kernel, zerolog.Nop(),
		WithWorkers(2),
		WithChunkSize(1000),
		WithMemoryChecker(stubMemory{available: 1}),
	)

	req := testRequest()
	req.TrialCount = 2000

	_, err := runner.Run(context.Background(), req)
	require.Error(t, err)

	var exhaustion *ResourceExhaustionError
	require.ErrorAs(t, err, &exhaustion)
}

func TestAccumulator_MergeCommutative(t *testing.T) {
	build := func() (*Accumulator, *Accumulator) {
		a := NewAccumulator(64, 1)
		b := NewAccumulator(64, 2)
		for i := 0; i < 50; i++ {
			a.Observe(float64(i))
			b.Observe(float64(100 + i))
		}
		a.Successes = 10
		b.Successes = 20
		return a, b
	}

	a1, b1 := build()
	a1.Merge(b1)

	a2, b2 := build()
	b2.Merge(a2)

	assert.Equal(t, a1.Trials, b2.Trials)
	assert.Equal(t, a1.Successes, b2.Successes)
	assert.Equal(t, a1.Sum, b2.Sum)
	assert.Equal(t, a1.SumSq, b2.SumSq)
}

func TestAccumulator_ReservoirBounded(t *testing.T) {
	acc := NewAccumulator(32, 7)
	for i := 0; i < 10_000; i++ {
		acc.Observe(float64(i))
	}

	assert.Len(t, acc.reservoir, 32)
	assert.Equal(t, 10_000, acc.Trials)
}
