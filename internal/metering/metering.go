package metering

import (
	"strconv"
	"strings"
	"time"

	"workbench/pkg/logger"
	"workbench/pkg/store/mysql/model"

	"github.com/shopspring/decimal"
)

// DefaultThresholds apply when the configured threshold list cannot be
// parsed.
var DefaultThresholds = []int{75, 90, 100}

var (
	mbPerGB          = decimal.NewFromInt(1024)
	secondsPerHour   = decimal.NewFromInt(3600)
	mbSecondsPerGBHr = mbPerGB.Mul(secondsPerHour)
)

// GBHours sums the usage of the given runs inside the [from, to) window in
// gigabyte-hours. Each run contributes its memory snapshot times the overlap
// of its interval with the window; open runs extend to the window end.
// Negative overlaps contribute nothing.
func GBHours(runs []*model.ServerRunStatistics, from, to time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, run := range runs {
		seconds := overlapSeconds(run, from, to)
		if seconds <= 0 {
			continue
		}
		mbSeconds := decimal.NewFromInt(int64(run.ServerSizeMemory)).
			Mul(decimal.NewFromFloat(seconds))
		total = total.Add(mbSeconds.Div(mbSecondsPerGBHr))
	}
	return total
}

func overlapSeconds(run *model.ServerRunStatistics, from, to time.Time) float64 {
	start := run.Start
	if start.Before(from) {
		start = from
	}
	end := to
	if run.Stop != nil && run.Stop.Before(to) {
		end = *run.Stop
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}

// Percent returns usage as an integer percentage of the limit, truncated. A
// zero or negative limit means unmetered and always reports zero.
func Percent(usage, limit decimal.Decimal) int {
	if limit.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return int(usage.Mul(decimal.NewFromInt(100)).Div(limit).IntPart())
}

// Buckets returns how many whole overage buckets the usage beyond the limit
// fills, rounding up: any spill into a bucket bills the full bucket.
func Buckets(usage, limit decimal.Decimal, bucketSizeGB float64) int64 {
	if bucketSizeGB <= 0 {
		return 0
	}
	over := usage.Sub(limit)
	if over.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return over.Div(decimal.NewFromFloat(bucketSizeGB)).Ceil().IntPart()
}

// ParseThresholds parses a comma separated percentage list into descending
// order. A malformed list falls back to the defaults rather than silencing
// warnings for the whole fleet.
func ParseThresholds(raw string) []int {
	if strings.TrimSpace(raw) == "" {
		return append([]int(nil), DefaultThresholds...)
	}
	var thresholds []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v <= 0 || v > 1000 {
			logger.Warnf("invalid usage threshold list %q, using defaults", raw)
			return append([]int(nil), DefaultThresholds...)
		}
		thresholds = append(thresholds, v)
	}
	// Highest first so a user far over limit gets the most severe notice
	for i := 0; i < len(thresholds); i++ {
		for j := i + 1; j < len(thresholds); j++ {
			if thresholds[j] > thresholds[i] {
				thresholds[i], thresholds[j] = thresholds[j], thresholds[i]
			}
		}
	}
	return thresholds
}

// CrossedThreshold returns the highest threshold at or below the usage
// percentage, or 0 when none is crossed.
func CrossedThreshold(percent int, thresholds []int) int {
	for _, threshold := range thresholds {
		if percent >= threshold {
			return threshold
		}
	}
	return 0
}
