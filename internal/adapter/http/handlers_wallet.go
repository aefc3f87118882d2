package http

import (
	"net/http"

	"github.com/Strob0t/AgentForge/internal/middleware"
)

type balanceResponse struct {
	UserID     string `json:"userId"`
	Balance    string `json:"balance"`
	MicroUnits int64  `json:"microUnits"`
}

// WalletBalance handles GET /api/v1/wallet/balance for the calling user.
// The signup reward is granted on the first read.
func (h *Handlers) WalletBalance(w http.ResponseWriter, r *http.Request) {
	user := middleware.PrincipalFromContext(r.Context())
	if user == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}
	if h.Rewards != nil {
		if err := h.Rewards.EnsureSignup(r.Context(), user); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	bal, err := h.Ledger.Balance(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: user, Balance: bal.String(), MicroUnits: int64(bal)})
}
