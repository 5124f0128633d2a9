package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/money"
	"github.com/sporehub/marketplace/internal/orders"
	"github.com/sporehub/marketplace/internal/wallet"
)

type WalletsHandler struct {
	Service *wallet.Service
}

func (h *WalletsHandler) Register(r *chi.Mux) {
	r.Get("/producers/{id}/wallet", h.summary)
	r.Get("/producers/{id}/withdrawals", h.listWithdrawals)
	r.Post("/producers/{id}/withdrawals", h.createWithdrawal)
	r.Post("/withdrawals/{id}/process", h.processWithdrawal)
}

// A producer may only see and move their own funds; admins may see anyone's.
func walletAccess(actor orders.Actor, producerID string) error {
	if actor.Role == orders.RoleAdmin {
		return nil
	}
	if actor.Role == orders.RoleProducer && actor.ID == producerID {
		return nil
	}
	return apperr.New(apperr.KindForbidden, "no access to producer %s wallet", producerID)
}

type walletResp struct {
	ProducerID     string `json:"producer_id"`
	Balance        string `json:"balance"`
	Pending        string `json:"pending_balance"`
	TotalEarned    string `json:"total_earned"`
	TotalWithdrawn string `json:"total_withdrawn"`
}

type withdrawalResp struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toWithdrawalResp(wd *wallet.Withdrawal) withdrawalResp {
	return withdrawalResp{
		ID: wd.ID, Amount: wd.Amount.Decimal(), Status: string(wd.Status),
		Reference: wd.Reference, Note: wd.Note, CreatedAt: wd.CreatedAt,
	}
}

func (h *WalletsHandler) summary(w http.ResponseWriter, r *http.Request) {
	producerID := chi.URLParam(r, "id")
	if err := walletAccess(actorFrom(r), producerID); err != nil {
		writeError(w, err)
		return
	}
	wl, err := h.Service.Summary(r.Context(), producerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResp{
		ProducerID:     wl.ProducerID,
		Balance:        wl.Balance.Decimal(),
		Pending:        wl.Pending.Decimal(),
		TotalEarned:    wl.TotalEarned.Decimal(),
		TotalWithdrawn: wl.TotalWithdrawn.Decimal(),
	})
}

func (h *WalletsHandler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	producerID := chi.URLParam(r, "id")
	if err := walletAccess(actorFrom(r), producerID); err != nil {
		writeError(w, err)
		return
	}
	wds, err := h.Service.Withdrawals(r.Context(), producerID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]withdrawalResp, 0, len(wds))
	for i := range wds {
		out = append(out, toWithdrawalResp(&wds[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type createWithdrawalReq struct {
	AmountCents int64 `json:"amount_cents"`
}

func (h *WalletsHandler) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	producerID := chi.URLParam(r, "id")
	actor := actorFrom(r)
	if actor.Role != orders.RoleProducer || actor.ID != producerID {
		writeError(w, apperr.New(apperr.KindForbidden, "only the producer may request a withdrawal"))
		return
	}
	var req createWithdrawalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}
	wd, err := h.Service.CreateWithdrawal(r.Context(), producerID, money.Cents(req.AmountCents))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalResp(wd))
}

type processWithdrawalReq struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

func (h *WalletsHandler) processWithdrawal(w http.ResponseWriter, r *http.Request) {
	if actorFrom(r).Role != orders.RoleAdmin {
		writeError(w, apperr.New(apperr.KindForbidden, "only admins process withdrawals"))
		return
	}
	var req processWithdrawalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}
	wd, err := h.Service.ProcessWithdrawal(r.Context(), chi.URLParam(r, "id"), wallet.Decision(req.Decision), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalResp(wd))
}
