package server

import (
	"sync"
	"time"

	"github.com/woozymasta/vigil/internal/activity"
	"github.com/woozymasta/vigil/internal/storage"
)

// Server holds the dependencies and configuration required to handle HTTP requests.
type Server struct {
	// storage provides read access to servers, snapshots, clusters and statistics,
	// and the single write path of the review workflow.
	storage *storage.Repository

	// patterns recomputes activity patterns on demand and builds heatmaps.
	patterns *activity.Service

	// now is the clock used for "active" filters and default date ranges.
	now func() time.Time

	// shutdown stops the rate limiter janitor.
	shutdown  chan struct{}
	closeOnce sync.Once

	// authToken is the secret token required to access the API.
	authToken string

	// pageSize is the default limit of list endpoints.
	pageSize int

	// silenceWindow defines which servers count as active.
	silenceWindow time.Duration

	// hardLimitCount is the maximum number of requests allowed per IP address
	// within the hardLimitWin duration.
	hardLimitCount int

	// hardLimitWin is the time window duration for the rate limiter.
	hardLimitWin time.Duration

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}

// decisionRequest is the body of a lineage review decision.
type decisionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error string `json:"error"`
}
