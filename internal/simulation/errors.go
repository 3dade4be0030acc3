package simulation

import "fmt"

// IntegrityError reports a run that discarded too many trials to be
// trusted. Returning a skewed probability silently is worse than failing,
// so the kernel refuses to reduce past the discard budget.
type IntegrityError struct {
	Discarded int
	Trials    int
	Rate      float64
	Budget    float64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("simulation integrity: %d of %d trials discarded (%.1f%%, budget %.1f%%)",
		e.Discarded, e.Trials, e.Rate*100, e.Budget*100)
}

// ResourceExhaustionError reports that a chunk could not be executed even
// after retrying at half the chunk size. It is fatal to the whole request.
type ResourceExhaustionError struct {
	ChunkIndex int
	ChunkSize  int
	Cause      error
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("resource exhaustion on chunk %d (size %d): %v", e.ChunkIndex, e.ChunkSize, e.Cause)
}

func (e *ResourceExhaustionError) Unwrap() error {
	return e.Cause
}
