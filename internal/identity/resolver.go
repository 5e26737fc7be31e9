// Package identity binds observations to canonical servers and detects when a community
// reappears on a new endpoint.
package identity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/fingerprint"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/storage"
)

// lockStripes bounds the number of candidate locks; candidates hashing to the same
// stripe are serialized together.
const lockStripes = 64

// Store is the persistence the resolver needs.
type Store interface {
	UpsertServer(ctx context.Context, s models.Server) (models.Server, error)
	StaleServers(ctx context.Context, staleBefore, notBefore time.Time, excludeID string) ([]models.Server, error)
	ProposeLineage(ctx context.Context, e models.LineageEdge, staleBefore time.Time) (models.LineageEdge, bool, error)
}

// Options tune migration detection.
type Options struct {
	SilenceWindow time.Duration // a server unseen this long is stale
	Lookback      time.Duration // stale servers older than this are not candidates
	AutoConfirm   float64
	Review        float64
	MissionBoost  float64
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		SilenceWindow: 48 * time.Hour,
		Lookback:      30 * 24 * time.Hour,
		AutoConfirm:   0.85,
		Review:        0.55,
		MissionBoost:  0.10,
	}
}

// Result is the outcome of resolving one observation.
type Result struct {
	Edge    *models.LineageEdge
	Server  models.Server
	Created bool
	// EdgeCreated is false when Edge already existed, e.g. on a replayed cycle.
	EdgeCreated bool
}

// Resolver upserts servers and proposes lineage edges for newly created ones.
type Resolver struct {
	store Store
	opts  Options
	locks [lockStripes]sync.Mutex
}

// New creates a resolver backed by store.
func New(store Store, opts Options) *Resolver {
	return &Resolver{store: store, opts: opts}
}

// Resolve upserts the server bound to the observation endpoint at capture time at.
// When this call created the server, the stale pool is searched for the
// community it most likely succeeds.
func (r *Resolver) Resolve(ctx context.Context, obs models.Observation, at time.Time) (Result, error) {
	server, err := r.store.UpsertServer(ctx, ServerFromObservation(obs, at))
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Server:  server,
		Created: server.FirstSeen.Unix() == at.Unix(),
	}
	if !res.Created {
		return res, nil
	}

	edge, created, err := r.detect(ctx, server, at)
	if err != nil {
		return res, fmt.Errorf("lineage for %s: %w", server.ID, err)
	}
	res.Edge = edge
	res.EdgeCreated = created

	return res, nil
}

// ServerFromObservation maps a scraper observation onto a server row observed at at.
func ServerFromObservation(obs models.Observation, at time.Time) models.Server {
	return models.Server{
		ID:               models.ServerID(obs.Address, obs.Port),
		Address:          obs.Address,
		Port:             obs.Port,
		Fingerprint:      fingerprint.Compute(obs.Address, obs.Port, obs.Name),
		DisplayName:      obs.Name,
		NormalizedName:   fingerprint.Normalize(obs.Name),
		PlayersCurrent:   obs.PlayersCurrent,
		PlayersMax:       obs.PlayersMax,
		PasswordRequired: obs.PasswordRequired,
		Mission:          obs.Mission,
		Description:      obs.Description,
		Terrain:          obs.Terrain,
		Era:              obs.Era,
		GameMode:         obs.GameMode,
		Framework:        obs.Framework,
		Language:         obs.Language,
		DiscordURL:       obs.DiscordURL,
		SRSAddress:       obs.SRSAddress,
		FirstSeen:        at,
		LastSeen:         at,
	}
}

// candidate is a scored stale server.
type candidate struct {
	server    models.Server
	matchType models.MatchType
	score     float64
}

func (r *Resolver) detect(ctx context.Context, current models.Server, at time.Time) (*models.LineageEdge, bool, error) {
	staleBefore := at.Add(-r.opts.SilenceWindow)
	pool, err := r.store.StaleServers(ctx, staleBefore, at.Add(-r.opts.Lookback), current.ID)
	if err != nil {
		return nil, false, fmt.Errorf("stale pool: %w", err)
	}

	ranked := r.rank(current, pool)
	for _, c := range ranked {
		status := models.LineagePendingReview
		if c.score >= r.opts.AutoConfirm {
			status = models.LineageConfirmed
		}

		edge, created, err := r.propose(ctx, models.LineageEdge{
			CurrentServerID: current.ID,
			PrevServerID:    c.server.ID,
			MatchType:       c.matchType,
			Similarity:      c.score,
			Status:          status,
			CreatedAt:       at,
		}, staleBefore)
		if errors.Is(err, storage.ErrCandidateActive) {
			log.Debug().Str("candidate", c.server.ID).Msg("lineage candidate reappeared, trying next")
			continue
		}
		if err != nil {
			return nil, false, err
		}

		if created {
			log.Info().
				Str("current", current.ID).
				Str("previous", c.server.ID).
				Str("match", string(edge.MatchType)).
				Float64("score", edge.Similarity).
				Str("status", string(edge.Status)).
				Msg("Lineage proposed")
		}

		return &edge, created, nil
	}

	return nil, false, nil
}

// propose serializes read-modify-write on one candidate across workers.
func (r *Resolver) propose(ctx context.Context, e models.LineageEdge, staleBefore time.Time) (models.LineageEdge, bool, error) {
	mu := &r.locks[xxhash.Sum64String(e.PrevServerID)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	return r.store.ProposeLineage(ctx, e, staleBefore)
}

// rank scores the pool against current and orders matches best first:
// highest score, then the most recently seen candidate, then the lowest id.
func (r *Resolver) rank(current models.Server, pool []models.Server) []candidate {
	currentPrefix := fingerprint.MissionPrefix(current.Mission)

	out := make([]candidate, 0, len(pool))
	for _, s := range pool {
		if fingerprint.Compute(current.Address, current.Port, s.DisplayName) == current.Fingerprint {
			out = append(out, candidate{server: s, matchType: models.MatchExactName, score: 1})
			continue
		}

		nameScore := fingerprint.Similarity(current.DisplayName, s.DisplayName)
		score := nameScore
		if currentPrefix != "" && currentPrefix == fingerprint.MissionPrefix(s.Mission) {
			score = min(1, score+r.opts.MissionBoost)
		}
		if score < r.opts.Review {
			continue
		}

		matchType := models.MatchFuzzyName
		if nameScore < r.opts.Review {
			matchType = models.MatchMissionSignature
		}
		out = append(out, candidate{server: s, matchType: matchType, score: score})
	}

	slices.SortStableFunc(out, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := b.server.LastSeen.Compare(a.server.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.server.ID, b.server.ID)
	})

	return out
}
