package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"whalewatch/internal/domain"
	"whalewatch/pkg/httputil"
)

// Digest builds the current open window for one chain on demand, without
// dispatching it or advancing the window mark.
func (h *Handler) Digest(w http.ResponseWriter, r *http.Request) {
	chain := domain.Chain(strings.ToUpper(chi.URLParam(r, "chain")))
	if !chain.Valid() {
		if err := httputil.Error(w, r, http.StatusNotFound, "unknown_chain", "unsupported chain", map[string]any{
			"chain": string(chain),
		}); err != nil {
			h.Log.Errorf("Digest handler error: %s", err.Error())
		}
		return
	}

	d, err := h.Digests.BuildWindow(r.Context(), chain, time.Now())
	if err != nil {
		h.Log.Errorf("Failed to build digest window for %s: %v", chain, err)
		if err = httputil.Error(w, r, http.StatusInternalServerError, "digest_failed", "failed to build digest window", nil); err != nil {
			h.Log.Errorf("Digest handler error: %s", err.Error())
		}
		return
	}

	if err = httputil.JSON(w, http.StatusOK, d, nil); err != nil {
		h.Log.Errorf("Digest handler error: %s", err.Error())
	}
}
