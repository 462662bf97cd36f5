package provider

import (
	"fmt"
	"strings"
	"time"
)

// Strategy names a load-balancing policy.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round-robin"
	StrategyLeastLoaded     Strategy = "least-loaded"
	StrategyFastestResponse Strategy = "fastest-response"
	StrategyCostOptimized   Strategy = "cost-optimized"
)

// ParseStrategy maps a config string to a Strategy. Empty input defaults
// to round-robin.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.TrimSpace(strings.ToLower(s))) {
	case "":
		return StrategyRoundRobin, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyLeastLoaded:
		return StrategyLeastLoaded, nil
	case StrategyFastestResponse:
		return StrategyFastestResponse, nil
	case StrategyCostOptimized:
		return StrategyCostOptimized, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// Select picks the backend for the next attempt. It is a pure function of
// the candidate snapshot; all ties break by candidate order.
//
// Round-robin cycles on the total number of attempts recorded so far
// (the sum of all cumulative request counts), which increases by exactly
// one per recorded attempt.
func Select(strategy Strategy, candidates []Stats) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoProviderAvailable
	}

	switch strategy {
	case StrategyLeastLoaded:
		return minBy(candidates, func(s Stats) uint64 { return s.Requests }), nil
	case StrategyFastestResponse:
		return minBy(candidates, func(s Stats) time.Duration { return s.AvgLatency }), nil
	case StrategyCostOptimized:
		return minBy(candidates, func(s Stats) float64 { return s.CostPerRequest }), nil
	case StrategyRoundRobin:
		return roundRobin(candidates), nil
	default:
		return "", fmt.Errorf("unknown strategy %q", strategy)
	}
}

func roundRobin(candidates []Stats) string {
	var total uint64
	for _, s := range candidates {
		total += s.Requests
	}
	return candidates[total%uint64(len(candidates))].Name
}

func minBy[V interface {
	~uint64 | ~int64 | ~float64
}](candidates []Stats, key func(Stats) V) string {
	best := 0
	bestV := key(candidates[0])
	for i := 1; i < len(candidates); i++ {
		if v := key(candidates[i]); v < bestV {
			best, bestV = i, v
		}
	}
	return candidates[best].Name
}
