// Package activity mines weekly load signatures from snapshot history.
package activity

import (
	"math"
	"slices"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

const (
	hoursPerWeek = 7 * 24
	windowRadius = 2 // peak window spans peak-2..peak+2 hours
)

// Options tune pattern classification.
type Options struct {
	Location         *time.Location // reference zone of the weekly grid
	MinSamples       int            // fewer snapshots than this suppress the pattern
	MinDays          int            // fewer distinct local days than this suppress the pattern
	Percentile       float64        // baseline percentile over non-empty cell means
	Epsilon          float64        // lower bound of the training score divisor
	ActiveFloor      float64        // absolute mean above which a cell is active
	ActiveMultiplier float64        // relative mean above baseline at which a cell is active
	TrainingBaseline float64        // max baseline of a training server
	TrainingScore    float64        // min score of a training server
}

// DefaultOptions returns stock thresholds in UTC.
func DefaultOptions() Options {
	return Options{
		Location:         time.UTC,
		MinSamples:       24,
		MinDays:          3,
		Percentile:       0.25,
		Epsilon:          0.5,
		ActiveFloor:      2,
		ActiveMultiplier: 1.5,
		TrainingBaseline: 1,
		TrainingScore:    3,
	}
}

type cell struct {
	sum int
	max int
	n   int
}

func (c cell) mean() float64 {
	return float64(c.sum) / float64(c.n)
}

// grid is the week of (ISO day, hour) buckets; index is day*24 + hour, Monday = 0.
type grid [hoursPerWeek]cell

func bucket(snaps []models.Snapshot, loc *time.Location) (*grid, int) {
	var g grid
	days := make(map[string]struct{})

	for _, s := range snaps {
		t := s.CapturedAt.In(loc)
		day := (int(t.Weekday()) + 6) % 7
		c := &g[day*24+t.Hour()]
		c.sum += s.PlayersCurrent
		c.max = max(c.max, s.PlayersCurrent)
		c.n++
		days[t.Format(time.DateOnly)] = struct{}{}
	}

	return &g, len(days)
}

// Heatmap returns the non-empty cells of the weekly grid ordered by day then hour.
func Heatmap(snaps []models.Snapshot, loc *time.Location) []models.HeatmapCell {
	g, _ := bucket(snaps, loc)

	out := make([]models.HeatmapCell, 0, hoursPerWeek)
	for i, c := range g {
		if c.n == 0 {
			continue
		}
		out = append(out, models.HeatmapCell{
			Day:        i / 24,
			Hour:       i % 24,
			AvgPlayers: c.mean(),
			MaxPlayers: c.max,
			Samples:    c.n,
		})
	}

	return out
}

// Analyze derives the weekly signature of one server. Empty cells are left out of
// every statistic. A history below the sample or day minimum still gets its
// figures computed but is marked suppressed and never classified as training.
func Analyze(serverID string, snaps []models.Snapshot, at time.Time, opts Options) models.ActivityPattern {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	p := models.ActivityPattern{
		ServerID:   serverID,
		ComputedAt: at,
		Samples:    len(snaps),
	}

	g, days := bucket(snaps, loc)
	p.DistinctDays = days
	p.Suppressed = p.Samples < opts.MinSamples || days < opts.MinDays
	if p.Samples == 0 {
		return p
	}

	means := make([]float64, 0, hoursPerWeek)
	peak := -1
	for i, c := range g {
		if c.n == 0 {
			continue
		}
		m := c.mean()
		means = append(means, m)
		if peak < 0 || m > g[peak].mean() {
			peak = i
		}
	}

	p.Baseline = percentile(means, opts.Percentile)
	p.PeakDay = peak / 24
	p.PeakHour = peak % 24
	p.PeakAvg = g[peak].mean()

	var sum, n int
	for off := -windowRadius; off <= windowRadius; off++ {
		c := g[(peak+off+hoursPerWeek)%hoursPerWeek]
		sum += c.sum
		n += c.n
	}
	p.PeakWindowAvg = float64(sum) / float64(n)
	// Sparse neighbours can drag the smoothed window under the baseline.
	if p.PeakWindowAvg < p.Baseline {
		p.PeakWindowAvg = p.PeakAvg
	}

	p.TrainingScore = p.PeakWindowAvg / math.Max(p.Baseline, opts.Epsilon)

	for _, c := range g {
		if c.n == 0 {
			continue
		}
		m := c.mean()
		if m > opts.ActiveFloor || (p.Baseline > opts.Epsilon && m > p.Baseline*opts.ActiveMultiplier) {
			p.ActiveHours++
		}
	}

	p.TrainingMode = !p.Suppressed &&
		p.Baseline <= opts.TrainingBaseline &&
		p.TrainingScore >= opts.TrainingScore

	return p
}

// percentile is the continuous (linearly interpolated) percentile of values, q in [0, 1].
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))

	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
