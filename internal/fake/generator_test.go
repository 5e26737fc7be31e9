package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycles(t *testing.T) {
	opts := Options{Start: time.Date(2025, 3, 3, 0, 30, 0, 0, time.UTC), Hours: 24 * 10, Servers: 6, Seed: 7}

	cycles := Cycles(opts)
	require.Len(t, cycles, opts.Hours)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), cycles[0].CapturedAt)
	assert.Equal(t, time.Hour, cycles[1].CapturedAt.Sub(cycles[0].CapturedAt))

	assert.Equal(t, cycles, Cycles(opts), "same seed, same history")

	// The migrant goes silent for three days and comes back elsewhere.
	half := opts.Hours / 2
	assert.Len(t, cycles[half].Observations, opts.Servers-1)
	last := cycles[len(cycles)-1].Observations
	require.Len(t, last, opts.Servers)
	assert.Equal(t, "192.0.2.44", last[0].Address)

	for _, c := range cycles {
		for _, o := range c.Observations {
			assert.GreaterOrEqual(t, o.PlayersCurrent, 0)
			assert.LessOrEqual(t, o.PlayersCurrent, o.PlayersMax)
		}
	}
}
