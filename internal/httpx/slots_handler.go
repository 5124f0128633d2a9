package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/delivery"
	"github.com/sporehub/marketplace/internal/inventory"
	"github.com/sporehub/marketplace/internal/orders"
	"github.com/sporehub/marketplace/internal/postgres"
)

type SlotsHandler struct {
	Delivery  *delivery.Repo
	Inventory *inventory.Repo
	Runner    postgres.Runner
	Pool      *pgxpool.Pool
}

func (h *SlotsHandler) Register(r *chi.Mux) {
	r.Post("/products/{id}/slots", h.createSlots)
	r.Get("/products/{id}/stock", h.getStock)
}

type slotInputReq struct {
	Date        string `json:"date"`
	MaxCapacity int    `json:"max_capacity"`
}

type createSlotsReq struct {
	Slots []slotInputReq `json:"slots"`
}

type slotResp struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Date        string `json:"date"`
	MaxCapacity int    `json:"max_capacity"`
	Reserved    int    `json:"reserved"`
	Available   bool   `json:"available"`
}

type createSlotsResp struct {
	Slots    []slotResp `json:"slots"`
	Warnings []string   `json:"warnings"`
}

func (h *SlotsHandler) createSlots(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != orders.RoleProducer && actor.Role != orders.RoleAdmin {
		writeError(w, apperr.New(apperr.KindForbidden, "role %s cannot manage delivery slots", actor.Role))
		return
	}
	productID := chi.URLParam(r, "id")

	var req createSlotsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}
	inputs := make([]delivery.SlotInput, 0, len(req.Slots))
	for _, s := range req.Slots {
		d, err := time.Parse("2006-01-02", s.Date)
		if err != nil {
			writeError(w, apperr.New(apperr.KindValidation, "invalid slot date %q, want YYYY-MM-DD", s.Date))
			return
		}
		if s.MaxCapacity <= 0 {
			writeError(w, apperr.New(apperr.KindValidation, "slot capacity must be positive, got %d", s.MaxCapacity))
			return
		}
		inputs = append(inputs, delivery.SlotInput{Date: d, MaxCapacity: s.MaxCapacity})
	}

	var created []delivery.Slot
	var warnings []string
	err := h.Runner.InTx(r.Context(), func(tx pgx.Tx) error {
		p, err := h.Inventory.Product(r.Context(), tx, productID)
		if err != nil {
			return err
		}
		if actor.Role == orders.RoleProducer && p.ProducerID != actor.ID {
			return apperr.New(apperr.KindForbidden, "product %s belongs to another producer", productID)
		}
		created, warnings, err = h.Delivery.CreateSlots(r.Context(), tx, productID, inputs)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := createSlotsResp{Slots: make([]slotResp, 0, len(created)), Warnings: warnings}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	for _, s := range created {
		resp.Slots = append(resp.Slots, slotResp{
			ID: s.ID, ProductID: s.ProductID, Date: s.Date.Format("2006-01-02"),
			MaxCapacity: s.MaxCapacity, Reserved: s.Reserved, Available: s.Available,
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *SlotsHandler) getStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	n, err := h.Inventory.Quantity(r.Context(), h.Pool, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "quantity": n})
}
