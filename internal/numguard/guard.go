// Package numguard provides numeric-safety utilities for vectorized financial
// math. Every simulation trial routes its arithmetic through these helpers so
// that NaN/Inf propagation, shape mismatches and scalar/array ambiguity are
// caught at this boundary instead of skewing aggregate results.
package numguard

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// CompareOp identifies an element-wise comparison operator.
type CompareOp int

const (
	OpGreater CompareOp = iota
	OpGreaterOrEqual
	OpLess
	OpLessOrEqual
	OpEqual
)

// Reduction identifies how a boolean vector collapses to a single boolean.
type Reduction int

const (
	// ReduceNone is only valid for single-element vectors.
	ReduceNone Reduction = iota
	// ReduceAny is true if any element is true.
	ReduceAny
	// ReduceAll is true if every element is true.
	ReduceAll
)

// ShapeError reports a vector whose length does not match what the caller
// required. It is local to a single trial; the kernel discards that trial
// rather than aborting the run.
type ShapeError struct {
	Want int
	Got  int
	Op   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %d elements, got %d", e.Op, e.Want, e.Got)
}

// AmbiguousTruthError reports a multi-element boolean vector collapsed
// without an explicit reduction.
type AmbiguousTruthError struct {
	Len int
}

func (e *AmbiguousTruthError) Error() string {
	return fmt.Sprintf("truth value of %d-element vector is ambiguous: use ReduceAny or ReduceAll", e.Len)
}

// ToScalar reduces an array-or-scalar value to a single float64.
// A one-element slice is unwrapped; anything longer is a shape error because
// the caller gave no reduction.
func ToScalar(values []float64) (float64, error) {
	switch len(values) {
	case 0:
		return 0, &ShapeError{Want: 1, Got: 0, Op: "ToScalar"}
	case 1:
		return values[0], nil
	default:
		return 0, &ShapeError{Want: 1, Got: len(values), Op: "ToScalar"}
	}
}

// SafeCompare compares every element against threshold and returns a boolean
// vector of the same shape. NaN elements compare false instead of poisoning
// the result or panicking downstream.
func SafeCompare(values []float64, threshold float64, op CompareOp) []bool {
	out := make([]bool, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue // NaN compares false under every operator
		}
		switch op {
		case OpGreater:
			out[i] = v > threshold
		case OpGreaterOrEqual:
			out[i] = v >= threshold
		case OpLess:
			out[i] = v < threshold
		case OpLessOrEqual:
			out[i] = v <= threshold
		case OpEqual:
			out[i] = v == threshold
		}
	}
	return out
}

// SafeToBool collapses a boolean vector to a single boolean using an explicit
// reduction. Multi-element vectors without a reduction fail with
// AmbiguousTruthError rather than silently taking the first element.
func SafeToBool(values []bool, reduction Reduction) (bool, error) {
	if len(values) == 0 {
		return false, &ShapeError{Want: 1, Got: 0, Op: "SafeToBool"}
	}

	switch reduction {
	case ReduceNone:
		if len(values) > 1 {
			return false, &AmbiguousTruthError{Len: len(values)}
		}
		return values[0], nil
	case ReduceAny:
		for _, v := range values {
			if v {
				return true, nil
			}
		}
		return false, nil
	case ReduceAll:
		for _, v := range values {
			if !v {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown reduction %d", reduction)
	}
}

// Guard wraps numeric functions so that floating-point blowups (divide by
// zero, overflow) are replaced by a configured sentinel instead of aborting
// the whole simulation batch.
type Guard struct {
	sentinel float64
	log      zerolog.Logger
}

// NewGuard creates a guard that substitutes sentinel for non-finite results.
// The sentinel is typically the asset class's worst historical return.
func NewGuard(sentinel float64, log zerolog.Logger) *Guard {
	return &Guard{
		sentinel: sentinel,
		log:      log.With().Str("component", "numguard").Logger(),
	}
}

// Call invokes fn and returns its result, substituting the sentinel when the
// result is NaN or infinite. The substitution is logged at debug level so a
// high substitution rate shows up in diagnostics without flooding logs.
func (g *Guard) Call(op string, fn func() float64) float64 {
	v := fn()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		g.log.Debug().
			Str("operation", op).
			Float64("sentinel", g.sentinel).
			Msg("Non-finite result substituted")
		return g.sentinel
	}
	return v
}

// Sentinel returns the configured substitution value.
func (g *Guard) Sentinel() float64 {
	return g.sentinel
}

// IsFinite reports whether v is a usable number (not NaN, not Inf).
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
