package handlers

import (
	"net/http"

	"whalewatch/internal/domain"
	"whalewatch/pkg/httputil"
)

type chainStatus struct {
	Wallets         int      `json:"wallets"`
	DegradedWallets []string `json:"degraded_wallets,omitempty"`
}

// Status reports what the monitor is watching right now: wallet counts,
// degraded wallets per chain and the scheduler's backoff state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string]chainStatus, len(domain.AllChains))
	for _, chain := range domain.AllChains {
		wallets := h.Registry.WalletsFor(chain)
		if len(wallets) == 0 {
			continue
		}
		chains[string(chain)] = chainStatus{
			Wallets:         len(wallets),
			DegradedWallets: h.Registry.DegradedWallets(chain),
		}
	}

	resp := map[string]any{
		"wallets_total": h.Registry.Count(),
		"chains":        chains,
	}
	if h.Sched != nil {
		resp["interval_backoff"] = h.Sched.Backoff()
		resp["run_stats"] = h.Sched.Stats()
	}

	if err := httputil.JSON(w, http.StatusOK, resp, nil); err != nil {
		h.Log.Errorf("Status handler error: %s", err.Error())
	}
}
