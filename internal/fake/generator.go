// Package fake generates synthetic scrape cycles for development and demos.
package fake

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/woozymasta/vigil/internal/archive"
	"github.com/woozymasta/vigil/internal/models"
)

// Options control the generated history.
type Options struct {
	Start   time.Time
	Hours   int
	Servers int
	Seed    int64
}

type profile struct {
	obs      models.Observation
	base     int
	peakHour int // UTC hour of the evening peak, -1 for flat traffic
	spike    int
}

// The first fixture migrates to a new address halfway through, the second only fills
// up during a weekly training slot.
const (
	migrantIndex  = 0
	trainingIndex = 1
)

// Cycles returns hourly captures starting at opts.Start. Output is deterministic for a seed.
func Cycles(opts Options) []archive.Cycle {
	rng := rand.New(rand.NewSource(opts.Seed))

	terrains := []string{"Caucasus", "Syria", "PersianGulf", "Marianas", "Sinai", "Kola"}
	modes := []string{"PvE", "PvP", "Training", "Campaign"}
	missions := []string{"Foothold", "Liberation", "Pretense", "GreyFlag", "TrainingRange"}
	tags := []string{"", " [EU]", " | 24/7", " (SRS)", " [NA]"}

	profiles := make([]profile, 0, max(opts.Servers, 2))
	profiles = append(profiles,
		profile{
			obs: models.Observation{
				Address: "203.0.113.10", Port: models.DefaultPort, Name: "=VG= Alpha Squadron PVP",
				Mission: "Foothold_Caucasus_v1.2.miz", Terrain: "Caucasus", GameMode: "PvP", PlayersMax: 64,
			},
			base: 12, peakHour: 19, spike: 20,
		},
		profile{
			obs: models.Observation{
				Address: "203.0.113.20", Port: models.DefaultPort, Name: "Hornet Training Night",
				Mission: "TrainingRange_Syria.miz", Terrain: "Syria", GameMode: "Training", PlayersMax: 32,
			},
			base: 0, peakHour: 20, spike: 18,
		},
	)
	for i := len(profiles); i < opts.Servers; i++ {
		mission := missions[rng.Intn(len(missions))]
		terrain := terrains[rng.Intn(len(terrains))]
		profiles = append(profiles, profile{
			obs: models.Observation{
				Address:    fmt.Sprintf("198.51.%d.%d", 100+i/200, i%200+10),
				Port:       models.DefaultPort + rng.Intn(3),
				Name:       fmt.Sprintf("Server %d %s%s", i, terrain, tags[rng.Intn(len(tags))]),
				Mission:    fmt.Sprintf("%s_%s_v%d.miz", mission, terrain, rng.Intn(9)+1),
				Terrain:    terrain,
				GameMode:   modes[rng.Intn(len(modes))],
				PlayersMax: 16 * (rng.Intn(4) + 1),
			},
			base:     rng.Intn(10),
			peakHour: rng.Intn(24) - 1,
			spike:    rng.Intn(15),
		})
		// A few hosts share one address to form a cluster.
		if rng.Float32() < 0.2 {
			profiles[i].obs.Address = "198.51.100.7"
			profiles[i].obs.Port = models.DefaultPort + i
		}
	}

	start := opts.Start.UTC().Truncate(time.Hour)
	cycles := make([]archive.Cycle, 0, opts.Hours)
	for h := range opts.Hours {
		at := start.Add(time.Duration(h) * time.Hour)
		obs := make([]models.Observation, 0, len(profiles))

		for i, p := range profiles {
			o := p.obs
			o.PlayersCurrent = p.players(rng, at, i == trainingIndex)

			if i == migrantIndex && h >= opts.Hours/2 {
				// Quiet for three days, then back on a new host under a tagged name.
				if h < opts.Hours/2+72 {
					continue
				}
				o.Address = "192.0.2.44"
				o.Name = p.obs.Name + " [NEW IP]"
			}
			obs = append(obs, o)
		}

		cycles = append(cycles, archive.Cycle{CapturedAt: at, Source: "fake", Observations: obs})
	}

	return cycles
}

func (p profile) players(rng *rand.Rand, at time.Time, weekly bool) int {
	n := p.base
	if p.base > 0 {
		n += rng.Intn(p.base/2+1) - p.base/4
	}

	if p.peakHour >= 0 && at.Hour() == p.peakHour {
		if !weekly || at.Weekday() == time.Wednesday {
			n += p.spike
		}
	}

	return min(max(n, 0), max(p.obs.PlayersMax, 1))
}
