package sizing

import (
	"fmt"
	"math"
	"strings"

	"github.com/sawpanic/tradegate/internal/policy"
)

const (
	MinConviction = 1.0
	MaxConviction = 10.0
)

// AllocationResult is the bucket allocation for a 1-10 conviction
type AllocationResult struct {
	AllocationDollars    float64        `json:"allocation_dollars"`
	AllocationFrac       float64        `json:"allocation_frac"`
	MaxCapDollars        float64        `json:"max_cap_dollars"`
	MaxCapFrac           float64        `json:"max_cap_frac"`
	ConvictionMultiplier float64        `json:"conviction_multiplier"`
	Bucket               Classification `json:"bucket"`
	Conviction           float64        `json:"conviction"`
	AccountSize          float64        `json:"account_size"`
	Warnings             []string       `json:"warnings,omitempty"`
}

// MaxPosition is the largest position a bucket allows
type MaxPosition struct {
	MaxDollars float64        `json:"max_dollars"`
	MaxFrac    float64        `json:"max_frac"`
	Bucket     Classification `json:"bucket"`
}

// ParseClassification maps a bucket name, case-insensitively
func ParseClassification(s string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "core":
		return Core, nil
	case "speculative":
		return Speculative, nil
	}
	return "", policy.Invalid("bucket", s, "must be core or speculative")
}

// Allocation scales the bucket cap by conviction/10. riskFrac, when set, is
// an additional cap in (0,1] of the account.
func (s *Sizer) Allocation(accountSize float64, bucket string, conviction float64, riskFrac *float64) (*AllocationResult, error) {
	if accountSize <= 0 {
		return nil, policy.Invalid("account_size", accountSize, "must be positive")
	}
	class, err := ParseClassification(bucket)
	if err != nil {
		return nil, err
	}
	if conviction < MinConviction || conviction > MaxConviction {
		return nil, policy.Invalid("conviction", conviction, fmt.Sprintf("must be between %.0f and %.0f", MinConviction, MaxConviction))
	}
	if riskFrac != nil && (*riskFrac <= 0 || *riskFrac > 1) {
		return nil, policy.Invalid("risk_pct", *riskFrac, "must be in (0, 1]")
	}

	capFrac := s.config.BaseAllocationPct[class] / 100
	capDollars := accountSize * capFrac
	mult := conviction / MaxConviction

	res := &AllocationResult{
		Bucket:               class,
		Conviction:           conviction,
		AccountSize:          accountSize,
		ConvictionMultiplier: math.Round(mult*100) / 100,
		MaxCapFrac:           capFrac,
		MaxCapDollars:        capDollars,
	}
	allocFrac := capFrac * mult
	allocDollars := accountSize * allocFrac

	if riskFrac != nil {
		riskDollars := accountSize * *riskFrac
		if riskDollars < allocDollars {
			res.Warnings = append(res.Warnings, fmt.Sprintf("allocation reduced from $%.2f to $%.2f by risk cap", allocDollars, riskDollars))
			allocDollars, allocFrac = riskDollars, *riskFrac
		}
		if *riskFrac < res.MaxCapFrac {
			res.MaxCapFrac, res.MaxCapDollars = *riskFrac, riskDollars
		}
	}
	if allocDollars > capDollars {
		res.Warnings = append(res.Warnings, fmt.Sprintf("allocation capped at bucket maximum $%.2f", capDollars))
		allocDollars, allocFrac = capDollars, capFrac
	}
	if conviction <= 3 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("low conviction (%.0f/10), consider a smaller position", conviction))
	}

	res.AllocationDollars = round2(allocDollars)
	res.AllocationFrac = math.Round(allocFrac*10000) / 10000
	res.MaxCapDollars = round2(res.MaxCapDollars)
	res.MaxCapFrac = math.Round(res.MaxCapFrac*10000) / 10000
	return res, nil
}

// MaxPositionSize is the bucket allocation at full conviction
func (s *Sizer) MaxPositionSize(accountSize float64, bucket string) (*MaxPosition, error) {
	res, err := s.Allocation(accountSize, bucket, MaxConviction, nil)
	if err != nil {
		return nil, err
	}
	return &MaxPosition{MaxDollars: res.MaxCapDollars, MaxFrac: res.MaxCapFrac, Bucket: res.Bucket}, nil
}
