package httpapi

import (
	"net/http"

	"github.com/syncstack/docsync-api/internal/store"
	"github.com/syncstack/docsync-api/internal/syncx"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion       string         `json:"apiVersion"`
	ServerTime       string         `json:"serverTime"`
	OperationTypes   []string       `json:"operationTypes"`
	Strategies       []string       `json:"conflictStrategies"`
	QueueCapacity    int            `json:"queueCapacity"`
	ProcessBatchSize int            `json:"processBatchSize"`
	EnqueueBatchMax  int            `json:"enqueueBatchMax"`
	MaxRetries       int            `json:"maxRetries"`
	MinClientVersion string         `json:"minClientVersion"`
	RateLimit        *RateLimitInfo `json:"rateLimit,omitempty"`
	Hints            *SyncHints     `json:"hints,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	RecommendedBatch int `json:"recommendedBatch"` // safe batch size
	BackoffMsOn429   int `json:"backoffMsOn429"`   // default backoff if Retry-After missing
}

// Info handles GET /v1/sync/info
// Returns server capabilities, API version, and supported features
// This endpoint can be called without authentication to allow capability discovery
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	limits := s.Engine.Limits()

	info := ServerInfo{
		APIVersion: "1.0",
		ServerTime: syncx.RFC3339(syncx.NowMs()),
		OperationTypes: []string{
			string(store.OpCreate),
			string(store.OpUpdate),
			string(store.OpDelete),
			string(store.OpBatch),
		},
		Strategies: []string{
			string(store.ClientWins),
			string(store.ServerWins),
			string(store.Merge),
			string(store.Manual),
		},
		QueueCapacity:    limits.QueueCapacity,
		ProcessBatchSize: limits.BatchSize,
		EnqueueBatchMax:  limits.EnqueueBatchMax,
		MaxRetries:       limits.MaxRetries,
		MinClientVersion: "0.1.0",
		RateLimit:        &s.RateLimitConfig,
		Hints: &SyncHints{
			RecommendedBatch: limits.EnqueueBatchMax,
			BackoffMsOn429:   1500,
		},
	}

	writeJSON(w, http.StatusOK, info)
}
