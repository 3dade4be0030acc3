package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/goalkeeper/internal/simulation"
)

// fingerprintPayload is the canonical encoding of a request's
// result-affecting fields. Maps are flattened to sorted slices because map
// encoding order is not stable. Request metadata (display names, timestamps)
// never enters the payload.
type fingerprintPayload struct {
	GoalID              string
	TargetAmount        float64
	CurrentAmount       float64
	MonthlyContribution float64
	HorizonYears        int
	InflationRate       float64
	ExpenseRatio        float64
	PartialFraction     float64
	TrialCount          int
	Seed                uint64
	Model               string
	Classes             []fingerprintClass
}

type fingerprintClass struct {
	Name        string
	Weight      float64
	MeanReturn  float64
	StdDev      float64
	WorstReturn float64
}

// Fingerprint computes the stable cache key for a request. The key is
// prefixed with the goal ID so all entries for one goal share a prefix and
// can be invalidated together.
func Fingerprint(req *simulation.Request) (string, error) {
	payload := fingerprintPayload{
		GoalID:              req.GoalID,
		TargetAmount:        req.TargetAmount,
		CurrentAmount:       req.CurrentAmount,
		MonthlyContribution: req.MonthlyContribution,
		HorizonYears:        req.HorizonYears,
		InflationRate:       req.InflationRate,
		ExpenseRatio:        req.ExpenseRatio,
		PartialFraction:     req.PartialFraction,
		TrialCount:          req.TrialCount,
		Seed:                req.Seed,
		Model:               req.Model,
	}

	classes := make([]string, 0, len(req.Allocation))
	for class := range req.Allocation {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		assumption := req.Assumptions[class]
		payload.Classes = append(payload.Classes, fingerprintClass{
			Name:        class,
			Weight:      req.Allocation[class],
			MeanReturn:  assumption.MeanReturn,
			StdDev:      assumption.StdDev,
			WorstReturn: assumption.WorstReturn,
		})
	}

	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint payload: %w", err)
	}

	digest := sha256.Sum256(encoded)
	return fmt.Sprintf("%s:%s", req.GoalID, hex.EncodeToString(digest[:16])), nil
}
