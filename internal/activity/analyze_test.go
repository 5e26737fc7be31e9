package activity

import (
	"math/rand/v2"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/vigil/internal/models"
)

// monday is the start of an ISO week in UTC.
var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

// hourly builds one snapshot per hour for the given number of weeks.
func hourly(weeks int, players func(week, day, hour int) int) []models.Snapshot {
	snaps := make([]models.Snapshot, 0, weeks*hoursPerWeek)
	for w := range weeks {
		for i := range hoursPerWeek {
			snaps = append(snaps, models.Snapshot{
				ServerID:       "s",
				CapturedAt:     monday.Add(time.Duration(w*hoursPerWeek+i) * time.Hour),
				PlayersCurrent: players(w, i/24, i%24),
			})
		}
	}
	return snaps
}

func TestAnalyzeTrainingSpike(t *testing.T) {
	snaps := hourly(2, func(_, day, hour int) int {
		switch {
		case day == 0 && (hour == 10 || hour == 11):
			return 1
		case day == 2 && hour == 20:
			return 55
		case day == 2 && (hour == 19 || hour == 21):
			return 48
		}
		return 0
	})

	p := Analyze("s", snaps, monday, DefaultOptions())

	assert.False(t, p.Suppressed)
	assert.Equal(t, 336, p.Samples)
	assert.Equal(t, 14, p.DistinctDays)
	assert.InDelta(t, 0, p.Baseline, 1e-9)
	assert.Equal(t, 2, p.PeakDay)
	assert.Equal(t, 20, p.PeakHour)
	assert.InDelta(t, 55, p.PeakAvg, 1e-9)
	assert.InDelta(t, 30.2, p.PeakWindowAvg, 1e-9)
	assert.InDelta(t, 60.4, p.TrainingScore, 1e-9)
	assert.Equal(t, 3, p.ActiveHours)
	assert.True(t, p.TrainingMode)
}

func TestAnalyzePeakWindowWrapsWeek(t *testing.T) {
	snaps := hourly(2, func(_, day, hour int) int {
		switch {
		case day == 0 && hour == 0:
			return 50
		case day == 0 && hour == 1:
			return 20
		case day == 6 && hour == 23:
			return 40
		case day == 6 && hour == 22:
			return 30
		}
		return 0
	})

	p := Analyze("s", snaps, monday, DefaultOptions())

	assert.Equal(t, 0, p.PeakDay)
	assert.Equal(t, 0, p.PeakHour)
	assert.InDelta(t, 50, p.PeakAvg, 1e-9)
	// Sunday 22:00 and 23:00 belong to the window of a Monday midnight peak.
	assert.InDelta(t, (30+40+50+20+0)/5.0, p.PeakWindowAvg, 1e-9)
	assert.True(t, p.TrainingMode)
}

func TestAnalyzeSteadyServer(t *testing.T) {
	snaps := hourly(2, func(week, _, _ int) int {
		if week%2 == 0 {
			return 19
		}
		return 21
	})

	p := Analyze("s", snaps, monday, DefaultOptions())

	assert.InDelta(t, 20, p.Baseline, 1e-9)
	assert.InDelta(t, 20, p.PeakWindowAvg, 1e-9)
	assert.InDelta(t, 1, p.TrainingScore, 1e-9)
	assert.Equal(t, 168, p.ActiveHours)
	assert.Equal(t, 0, p.PeakDay, "ties resolve to the earliest cell")
	assert.Equal(t, 0, p.PeakHour)
	assert.False(t, p.TrainingMode)
}

func TestAnalyzeTrainingNegatives(t *testing.T) {
	t.Run("quiet server with a weak bump", func(t *testing.T) {
		snaps := hourly(2, func(_, day, hour int) int {
			if day == 4 && hour >= 18 && hour <= 22 {
				return 1
			}
			return 0
		})

		p := Analyze("s", snaps, monday, DefaultOptions())
		assert.LessOrEqual(t, p.Baseline, 1.0)
		assert.Less(t, p.TrainingScore, 3.0)
		assert.False(t, p.TrainingMode)
	})

	t.Run("busy baseline with a big event", func(t *testing.T) {
		snaps := hourly(2, func(_, day, hour int) int {
			if day == 2 && hour >= 19 && hour <= 21 {
				return 40
			}
			return 2
		})

		p := Analyze("s", snaps, monday, DefaultOptions())
		assert.InDelta(t, 2, p.Baseline, 1e-9)
		assert.InDelta(t, 24.8, p.PeakWindowAvg, 1e-9)
		assert.GreaterOrEqual(t, p.TrainingScore, 3.0)
		assert.Equal(t, 3, p.ActiveHours)
		assert.False(t, p.TrainingMode)
	})
}

func TestAnalyzeSuppressed(t *testing.T) {
	t.Run("too few samples", func(t *testing.T) {
		snaps := hourly(1, func(_, day, hour int) int {
			if day == 0 && hour == 5 {
				return 50
			}
			return 0
		})[:10]

		p := Analyze("s", snaps, monday, DefaultOptions())
		assert.True(t, p.Suppressed)
		assert.False(t, p.TrainingMode)
		assert.Equal(t, 10, p.Samples)
	})

	t.Run("too few days", func(t *testing.T) {
		snaps := hourly(1, func(int, int, int) int { return 3 })[:48]

		p := Analyze("s", snaps, monday, DefaultOptions())
		assert.Equal(t, 2, p.DistinctDays)
		assert.True(t, p.Suppressed)
	})

	t.Run("no history", func(t *testing.T) {
		p := Analyze("s", nil, monday, DefaultOptions())
		assert.True(t, p.Suppressed)
		assert.Zero(t, p.ActiveHours)
	})
}

func TestAnalyzeBaselineBelowPeakWindow(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for trial := range 200 {
		n := 1 + rng.IntN(400)
		snaps := make([]models.Snapshot, n)
		for i := range snaps {
			snaps[i] = models.Snapshot{
				CapturedAt:     monday.Add(time.Duration(rng.IntN(4*hoursPerWeek)) * time.Hour),
				PlayersCurrent: rng.IntN(64),
			}
		}

		p := Analyze("s", snaps, monday, DefaultOptions())
		require.LessOrEqual(t, p.Baseline, p.PeakWindowAvg, "trial %d", trial)
		require.LessOrEqual(t, p.PeakWindowAvg, p.PeakAvg+1e-9, "trial %d", trial)
	}
}

func TestBucketUsesReferenceZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 03:00 UTC on Monday is still Sunday evening in New York.
	cells := Heatmap([]models.Snapshot{{CapturedAt: monday.Add(3 * time.Hour), PlayersCurrent: 4}}, ny)
	require.Len(t, cells, 1)
	assert.Equal(t, 6, cells[0].Day)
	assert.Equal(t, 23, cells[0].Hour)
}

func TestHeatmap(t *testing.T) {
	cells := Heatmap([]models.Snapshot{
		{CapturedAt: monday.Add(10 * time.Hour), PlayersCurrent: 4},
		{CapturedAt: monday.Add(hoursPerWeek*time.Hour + 10*time.Hour), PlayersCurrent: 10},
		{CapturedAt: monday.Add(30 * time.Hour), PlayersCurrent: 1},
	}, time.UTC)

	assert.Equal(t, []models.HeatmapCell{
		{Day: 0, Hour: 10, AvgPlayers: 7, MaxPlayers: 10, Samples: 2},
		{Day: 1, Hour: 6, AvgPlayers: 1, MaxPlayers: 1, Samples: 1},
	}, cells)
}

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 0, percentile(nil, 0.25), 1e-9)
	assert.InDelta(t, 5, percentile([]float64{5}, 0.25), 1e-9)
	assert.InDelta(t, 1.75, percentile([]float64{4, 1, 2, 3}, 0.25), 1e-9)
}
