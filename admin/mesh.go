package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleMeshStatus handles GET /admin/mesh/status.
func (h *AdminHandlers) handleMeshStatus(w http.ResponseWriter, r *http.Request) {
	inTrouble := h.mesh.InTrouble()

	resp := map[string]interface{}{
		"self_hsid":         h.mesh.SelfHsid(),
		"in_arbitration":    h.mesh.IsInArbitration(),
		"in_trouble":        inTrouble,
		"failed_sites":      h.mesh.FailedSites(),
		"survivors":         h.mesh.Survivors(),
		"stale_unwitnessed": h.mesh.StaleUnwitnessed(),
		"ledger_entries":    h.mesh.LedgerSize(),
	}

	writeJSONResponse(w, resp, false, "")
}

// handleMeshHealth handles GET /admin/mesh/health.
func (h *AdminHandlers) handleMeshHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"self_hsid":           h.mesh.SelfHsid(),
		"failed_sites_count":  len(h.mesh.FailedSites()),
		"in_arbitration":      h.mesh.IsInArbitration(),
	}

	writeJSONResponse(w, resp, false, "")
}

// handleSiteLookup handles GET /admin/mesh/sites/{hsid}, reporting whether
// a site is currently in trouble, failed, or a survivor.
func (h *AdminHandlers) handleSiteLookup(w http.ResponseWriter, r *http.Request) {
	hsid, err := parseHsid(chi.URLParam(r, "hsid"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	status := "unknown"
	if witnessed, ok := h.mesh.InTrouble()[hsid]; ok {
		if witnessed {
			status = "in_trouble_witnessed"
		} else {
			status = "in_trouble_unwitnessed"
		}
	} else {
		for _, s := range h.mesh.FailedSites() {
			if s == hsid {
				status = "failed"
			}
		}
		for _, s := range h.mesh.Survivors() {
			if s == hsid {
				status = "survivor"
			}
		}
	}

	writeJSONResponse(w, map[string]interface{}{"hsid": hsid, "status": status}, false, "")
}
