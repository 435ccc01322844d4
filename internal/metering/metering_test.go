package metering

import (
	"testing"
	"time"

	"workbench/pkg/store/mysql/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func closedRun(memory int, start, stop time.Time) *model.ServerRunStatistics {
	return &model.ServerRunStatistics{ServerSizeMemory: memory, Start: start, Stop: &stop}
}

func openRun(memory int, start time.Time) *model.ServerRunStatistics {
	return &model.ServerRunStatistics{ServerSizeMemory: memory, Start: start}
}

func TestGBHours_OneGigabyteForOneHour(t *testing.T) {
	runs := []*model.ServerRunStatistics{
		closedRun(1024, base, base.Add(time.Hour)),
	}
	usage := GBHours(runs, base, base.Add(24*time.Hour))
	assert.True(t, usage.Equal(decimal.NewFromInt(1)), "got %s", usage)
}

func TestGBHours_HalfMemoryHalfTime(t *testing.T) {
	runs := []*model.ServerRunStatistics{
		closedRun(512, base, base.Add(30*time.Minute)),
	}
	usage := GBHours(runs, base, base.Add(time.Hour))
	assert.True(t, usage.Equal(decimal.RequireFromString("0.25")), "got %s", usage)
}

func TestGBHours_ClipsToWindow(t *testing.T) {
	// Run spans 2h but only 1h falls inside the window
	runs := []*model.ServerRunStatistics{
		closedRun(1024, base.Add(-time.Hour), base.Add(time.Hour)),
	}
	usage := GBHours(runs, base, base.Add(24*time.Hour))
	assert.True(t, usage.Equal(decimal.NewFromInt(1)), "got %s", usage)
}

func TestGBHours_RunOutsideWindowContributesNothing(t *testing.T) {
	runs := []*model.ServerRunStatistics{
		closedRun(1024, base.Add(-2*time.Hour), base.Add(-time.Hour)),
	}
	usage := GBHours(runs, base, base.Add(time.Hour))
	assert.True(t, usage.IsZero())
}

func TestGBHours_OpenRunExtendsToWindowEnd(t *testing.T) {
	runs := []*model.ServerRunStatistics{
		openRun(2048, base),
	}
	usage := GBHours(runs, base, base.Add(time.Hour))
	assert.True(t, usage.Equal(decimal.NewFromInt(2)), "got %s", usage)
}

func TestGBHours_MonotonicInWindowEnd(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("widening the window never shrinks usage", prop.ForAll(
		func(memory int, startOffset, duration, t1, t2 int) bool {
			start := base.Add(time.Duration(startOffset) * time.Minute)
			stop := start.Add(time.Duration(duration) * time.Minute)
			runs := []*model.ServerRunStatistics{closedRun(memory, start, stop)}

			lo, hi := t1, t2
			if lo > hi {
				lo, hi = hi, lo
			}
			early := GBHours(runs, base, base.Add(time.Duration(lo)*time.Minute))
			late := GBHours(runs, base, base.Add(time.Duration(hi)*time.Minute))
			return late.GreaterThanOrEqual(early)
		},
		gen.IntRange(128, 65536),
		gen.IntRange(-600, 600),
		gen.IntRange(0, 600),
		gen.IntRange(0, 1200),
		gen.IntRange(0, 1200),
	))

	properties.Property("usage is never negative", prop.ForAll(
		func(memory int, startOffset, duration int) bool {
			start := base.Add(time.Duration(startOffset) * time.Minute)
			stop := start.Add(time.Duration(duration) * time.Minute)
			runs := []*model.ServerRunStatistics{closedRun(memory, start, stop)}
			return GBHours(runs, base, base.Add(time.Hour)).GreaterThanOrEqual(decimal.Zero)
		},
		gen.IntRange(128, 65536),
		gen.IntRange(-600, 600),
		gen.IntRange(0, 600),
	))

	properties.TestingRun(t)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 50, Percent(decimal.NewFromInt(5), decimal.NewFromInt(10)))
	assert.Equal(t, 100, Percent(decimal.NewFromInt(10), decimal.NewFromInt(10)))
	assert.Equal(t, 150, Percent(decimal.NewFromInt(15), decimal.NewFromInt(10)))
	assert.Equal(t, 0, Percent(decimal.NewFromInt(5), decimal.Zero), "unmetered plan")
}

func TestBuckets(t *testing.T) {
	limit := decimal.NewFromInt(10)

	assert.EqualValues(t, 0, Buckets(decimal.NewFromInt(10), limit, 1.0), "at the limit")
	assert.EqualValues(t, 0, Buckets(decimal.NewFromInt(5), limit, 1.0), "under the limit")
	assert.EqualValues(t, 1, Buckets(decimal.RequireFromString("10.01"), limit, 1.0), "spill bills a full bucket")
	assert.EqualValues(t, 2, Buckets(decimal.RequireFromString("11.5"), limit, 1.0))
	assert.EqualValues(t, 2, Buckets(decimal.NewFromInt(12), limit, 1.0), "exact multiple")
	assert.EqualValues(t, 0, Buckets(decimal.NewFromInt(100), limit, 0), "unset bucket size disables overage")
}

func TestParseThresholds(t *testing.T) {
	assert.Equal(t, []int{100, 90, 75}, ParseThresholds("75,90,100"), "sorted descending")
	assert.Equal(t, []int{90, 50}, ParseThresholds(" 50 , 90 "))
	assert.Equal(t, DefaultThresholds, ParseThresholds(""))
	assert.Equal(t, DefaultThresholds, ParseThresholds("75,banana,100"))
	assert.Equal(t, DefaultThresholds, ParseThresholds("-5,90"))
}

func TestCrossedThreshold(t *testing.T) {
	thresholds := []int{100, 90, 75}

	assert.Equal(t, 0, CrossedThreshold(74, thresholds))
	assert.Equal(t, 75, CrossedThreshold(75, thresholds))
	assert.Equal(t, 90, CrossedThreshold(95, thresholds))
	assert.Equal(t, 100, CrossedThreshold(250, thresholds), "highest wins")
}
