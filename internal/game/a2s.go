// Package game re-checks known servers over the Source Engine Query (A2S) protocol
// and turns the answers into observations for an ingestion cycle.
package game

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/vigil/internal/models"
	"golang.org/x/sync/errgroup"
)

// Info is the subset of an A2S_INFO answer the prober uses.
type Info struct {
	Name       string
	Map        string
	Players    int
	MaxPlayers int
}

// QueryFunc asks one endpoint for its A2S_INFO.
type QueryFunc func(ip string, port int) (Info, error)

// Options configure the UDP client.
type Options struct {
	Timeout    time.Duration
	BufferSize uint16
}

// Query returns a QueryFunc backed by the a2s client.
func Query(opts Options) QueryFunc {
	return func(ip string, port int) (Info, error) {
		client, err := a2s.New(ip, port)
		if err != nil {
			return Info{}, err
		}
		defer func() { _ = client.Close() }()

		client.BufferSize = opts.BufferSize
		client.Timeout = opts.Timeout

		info, err := client.GetInfo()
		if err != nil {
			return Info{}, err
		}

		return Info{
			Name:       info.Name,
			Map:        info.Map,
			Players:    int(info.Players),
			MaxPlayers: int(info.MaxPlayers),
		}, nil
	}
}

// Prober queries a set of servers in parallel.
type Prober struct {
	query   QueryFunc
	workers int
}

// NewProber creates a prober running at most workers queries at a time.
func NewProber(query QueryFunc, workers int) *Prober {
	return &Prober{query: query, workers: max(workers, 1)}
}

// Probe queries every server and returns observations for those that answered.
// Stored enrichment is carried over since A2S does not report it; the mission is
// taken from the reported map. Unreachable servers are simply absent.
func (p *Prober) Probe(ctx context.Context, servers []models.Server) []models.Observation {
	var (
		mu  sync.Mutex
		out = make([]models.Observation, 0, len(servers))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, s := range servers {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			logCtx := log.With().Str("ip", s.Address).Int("port", s.Port).Logger()

			if ip := net.ParseIP(s.Address); ip == nil || ip.To4() == nil {
				logCtx.Trace().Msg("Skipping A2S query for non IPv4 address")
				return nil
			}

			info, err := p.query(s.Address, s.Port)
			if err != nil {
				logCtx.Debug().Err(err).Msg("A2S query failed")
				return nil
			}

			obs := models.Observation{
				Address:          s.Address,
				Port:             s.Port,
				Name:             info.Name,
				Mission:          info.Map,
				Description:      s.Description,
				Terrain:          s.Terrain,
				Era:              s.Era,
				GameMode:         s.GameMode,
				Framework:        s.Framework,
				Language:         s.Language,
				DiscordURL:       s.DiscordURL,
				SRSAddress:       s.SRSAddress,
				PlayersCurrent:   info.Players,
				PlayersMax:       info.MaxPlayers,
				PasswordRequired: s.PasswordRequired,
			}
			if obs.Name == "" {
				obs.Name = s.DisplayName
			}

			mu.Lock()
			out = append(out, obs)
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	return out
}
