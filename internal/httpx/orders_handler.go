package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/delivery"
	"github.com/sporehub/marketplace/internal/orders"
	"github.com/sporehub/marketplace/internal/postgres"
	"github.com/sporehub/marketplace/internal/redisx"
)

// Actor identity arrives from the authenticating proxy; session issuance is
// outside this service.
func actorFrom(r *http.Request) orders.Actor {
	return orders.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: orders.Role(r.Header.Get("X-Actor-Role")),
	}
}

type OrdersHandler struct {
	Service *orders.Service
	Reaper  *delivery.Repo
	Runner  postgres.Runner
	Redis   *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/items", h.addItem)
	r.Delete("/orders/{id}/items/{itemID}", h.removeItem)
	r.Post("/orders/{id}/bookings", h.addBooking)
	r.Delete("/orders/{id}/bookings/{bookingID}", h.removeBooking)
	r.Post("/orders/{id}/submit", h.submit)
	r.Post("/orders/{id}/status", h.changeStatus)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/internal/holds/release-expired", h.releaseExpired)
}

type deliveryReq struct {
	Kind    string `json:"kind"`
	Address string `json:"address,omitempty"`
}

type createOrderReq struct {
	ClientRef string             `json:"client_ref,omitempty"`
	Delivery  deliveryReq        `json:"delivery"`
	Items     []orders.ItemInput `json:"items,omitempty"`
}

type itemResp struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	ProducerID string `json:"producer_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type bookingResp struct {
	ID         string     `json:"id"`
	SlotID     string     `json:"slot_id"`
	ProductID  string     `json:"product_id"`
	ProducerID string     `json:"producer_id"`
	Qty        int        `json:"qty"`
	PriceCents int64      `json:"price_cents"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type orderResp struct {
	ID         string        `json:"id"`
	BuyerID    string        `json:"buyer_id"`
	Status     string        `json:"status"`
	TotalCents int64         `json:"total_cents"`
	Total      string        `json:"total"`
	Delivery   deliveryReq   `json:"delivery"`
	Payment    string        `json:"payment_state"`
	IntentID   string        `json:"payment_intent_id,omitempty"`
	Items      []itemResp    `json:"items"`
	Bookings   []bookingResp `json:"bookings"`
}

func toOrderResp(o *orders.Order) orderResp {
	resp := orderResp{
		ID:         o.ID,
		BuyerID:    o.BuyerID,
		Status:     string(o.Status),
		TotalCents: int64(o.Total),
		Total:      o.Total.Decimal(),
		Delivery:   deliveryReq{Kind: string(o.Delivery.Kind), Address: o.Delivery.Address},
		Payment:    string(o.Payment.State),
		IntentID:   o.Payment.IntentID,
		Items:      []itemResp{},
		Bookings:   []bookingResp{},
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, itemResp{
			ID: it.ID, ProductID: it.ProductID, ProducerID: it.ProducerID,
			Qty: it.Qty, PriceCents: int64(it.PriceCents),
		})
	}
	for _, b := range o.Bookings {
		resp.Bookings = append(resp.Bookings, bookingResp{
			ID: b.ID, SlotID: b.SlotID, ProductID: b.ProductID, ProducerID: b.ProducerID,
			Qty: b.Qty, PriceCents: int64(b.PriceCents), Status: string(b.Status), ExpiresAt: b.ExpiresAt,
		})
	}
	return resp
}

func (h *OrdersHandler) respond(w http.ResponseWriter, operation string, o *orders.Order, err error) {
	if err != nil {
		recordOrderOperation(operation, false)
		writeError(w, err)
		return
	}
	recordOrderOperation(operation, true)
	h.cacheStatus(o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) cacheStatus(o *orders.Order) {
	if h.Redis == nil || o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	body, _ := json.Marshal(map[string]string{"status": string(o.Status)})
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.ID == "" {
		writeError(w, apperr.New(apperr.KindForbidden, "missing actor identity"))
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}

	// Redis fast path for checkout retries; the unique client_ref column is
	// the real guarantee underneath.
	if req.ClientRef != "" && h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyIdemCheckout, actor.ID, req.ClientRef)
		if id, err := h.Redis.Get(r.Context(), key).Result(); err == nil && id != "" {
			if o, err := h.Service.GetOrder(r.Context(), id); err == nil {
				writeJSON(w, http.StatusOK, toOrderResp(o))
				return
			}
		}
	}

	o, err := h.Service.Create(r.Context(), orders.CreateInput{
		ClientRef: req.ClientRef,
		BuyerID:   actor.ID,
		Delivery:  orders.DeliveryDetails{Kind: orders.DeliveryKind(req.Delivery.Kind), Address: req.Delivery.Address},
		Items:     req.Items,
	})
	if err != nil {
		recordOrderOperation("create", false)
		writeError(w, err)
		return
	}
	recordOrderOperation("create", true)
	if req.ClientRef != "" && h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyIdemCheckout, actor.ID, req.ClientRef)
		_ = h.Redis.Set(r.Context(), key, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(o)
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// getOrderStatus serves from the Redis cache when warm; the database stays
// the source of truth.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}
	o, err := h.Service.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(o)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(o.Status)})
}

type addItemReq struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}
	o, err := h.Service.AddItem(r.Context(), chi.URLParam(r, "id"), req.ProductID, req.Qty, actorFrom(r))
	h.respond(w, "add_item", o, err)
}

func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), actorFrom(r))
	h.respond(w, "remove_item", o, err)
}

type addBookingReq struct {
	SlotID string `json:"slot_id"`
	Qty    int    `json:"qty"`
	Hold   bool   `json:"hold,omitempty"`
}

func (h *OrdersHandler) addBooking(w http.ResponseWriter, r *http.Request) {
	var req addBookingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}
	o, err := h.Service.AddBooking(r.Context(), chi.URLParam(r, "id"), req.SlotID, req.Qty, req.Hold, actorFrom(r))
	h.respond(w, "add_booking", o, err)
}

func (h *OrdersHandler) removeBooking(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.RemoveBooking(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "bookingID"), actorFrom(r))
	h.respond(w, "remove_booking", o, err)
}

func (h *OrdersHandler) submit(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Submit(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	h.respond(w, "submit", o, err)
}

type changeStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid json"))
		return
	}
	st, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "unknown status %q", req.Status))
		return
	}
	o, err := h.Service.ChangeStatus(r.Context(), chi.URLParam(r, "id"), st, actorFrom(r))
	h.respond(w, "change_status", o, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Cancel(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	h.respond(w, "cancel", o, err)
}

// releaseExpired is the idempotent hook for the external hold reaper.
func (h *OrdersHandler) releaseExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.Reaper.ReleaseExpired(r.Context(), h.Runner, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}
