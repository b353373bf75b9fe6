package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// MeshStatusProvider is the read-only surface the admin HTTP layer polls.
// It is satisfied by the arbiter driver; kept as an interface here so the
// admin package never imports package arbiter directly.
type MeshStatusProvider interface {
	SelfHsid() uint64
	InTrouble() map[uint64]bool
	FailedSites() []uint64
	Survivors() []uint64
	StaleUnwitnessed() []uint64
	LedgerSize() int
	IsInArbitration() bool
}

// AdminHandlers serves the admin HTTP surface over a MeshStatusProvider.
type AdminHandlers struct {
	mesh MeshStatusProvider
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(mesh MeshStatusProvider) *AdminHandlers {
	return &AdminHandlers{mesh: mesh}
}

// writeJSONResponse writes a successful JSON response.
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response.
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}

// parseHsid parses a site identifier from a URL path segment.
func parseHsid(raw string) (uint64, error) {
	if raw == "" {
		return 0, fmt.Errorf("hsid is required")
	}

	hsid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hsid: %w", err)
	}

	return hsid, nil
}
