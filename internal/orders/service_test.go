package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/delivery"
	"github.com/sporehub/marketplace/internal/inventory"
	"github.com/sporehub/marketplace/internal/money"
	"github.com/sporehub/marketplace/internal/wallet"
)

type fakeRunner struct{}

func (fakeRunner) InTx(ctx context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

// mockOrderStore persists orders in a map. Reads hand out copies so that the
// service's in-memory mutations only stick through the setter methods, the
// same contract the SQL store gives.
type mockOrderStore struct {
	orders map[string]*Order
}

func copyOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	cp.Bookings = append([]Booking(nil), o.Bookings...)
	return &cp
}

func (m *mockOrderStore) Create(_ context.Context, _ pgx.Tx, o *Order) error {
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *mockOrderStore) Get(_ context.Context, _ pgx.Tx, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	return copyOrder(o), nil
}

func (m *mockOrderStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Order, error) {
	return m.Get(ctx, tx, id)
}

func (m *mockOrderStore) FindByClientRef(_ context.Context, _ pgx.Tx, ref, buyerID string) (*Order, error) {
	for _, o := range m.orders {
		if o.ClientRef == ref && o.BuyerID == buyerID {
			return copyOrder(o), nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "no order with client ref %s", ref)
}

func (m *mockOrderStore) InsertItem(_ context.Context, _ pgx.Tx, it *Item) error {
	o := m.orders[it.OrderID]
	o.Items = append(o.Items, *it)
	return nil
}

func (m *mockOrderStore) DeleteItem(_ context.Context, _ pgx.Tx, itemID string) error {
	for _, o := range m.orders {
		for i, it := range o.Items {
			if it.ID == itemID {
				o.Items = append(o.Items[:i], o.Items[i+1:]...)
				return nil
			}
		}
	}
	return apperr.New(apperr.KindNotFound, "item %s not found", itemID)
}

func (m *mockOrderStore) InsertBooking(_ context.Context, _ pgx.Tx, b *Booking) error {
	o := m.orders[b.OrderID]
	o.Bookings = append(o.Bookings, *b)
	return nil
}

func (m *mockOrderStore) SetBookingStatus(_ context.Context, _ pgx.Tx, bookingID string, st BookingStatus) error {
	for _, o := range m.orders {
		for i := range o.Bookings {
			if o.Bookings[i].ID == bookingID {
				o.Bookings[i].Status = st
				if st != BookingTemporary {
					o.Bookings[i].ExpiresAt = nil
				}
				return nil
			}
		}
	}
	return apperr.New(apperr.KindNotFound, "booking %s not found", bookingID)
}

func (m *mockOrderStore) SetTotal(_ context.Context, _ pgx.Tx, orderID string, total int64) error {
	m.orders[orderID].Total = money.Cents(total)
	return nil
}

func (m *mockOrderStore) SetStatus(_ context.Context, _ pgx.Tx, orderID string, st Status) error {
	m.orders[orderID].Status = st
	return nil
}

func (m *mockOrderStore) SetPayment(_ context.Context, _ pgx.Tx, orderID string, p PaymentLink) error {
	m.orders[orderID].Payment = p
	return nil
}

type mockCatalog struct {
	products map[string]inventory.Product
}

func (m *mockCatalog) Product(_ context.Context, _ pgx.Tx, id string) (*inventory.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "product %s not found", id)
	}
	return &p, nil
}

type mockStock struct {
	quantities map[string]int
}

func (m *mockStock) Reserve(_ context.Context, _ pgx.Tx, productID string, qty int) error {
	if qty <= 0 {
		return apperr.New(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}
	available, ok := m.quantities[productID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "no stock row for product %s", productID)
	}
	if available < qty {
		return apperr.New(apperr.KindConflict,
			"insufficient stock for product %s: available %d, requested %d", productID, available, qty)
	}
	m.quantities[productID] = available - qty
	return nil
}

func (m *mockStock) Release(_ context.Context, _ pgx.Tx, productID string, qty int) error {
	if _, ok := m.quantities[productID]; !ok {
		return apperr.New(apperr.KindNotFound, "no stock row for product %s", productID)
	}
	m.quantities[productID] += qty
	return nil
}

type mockSlots struct {
	slots map[string]*delivery.Slot
}

func (m *mockSlots) BookSlot(_ context.Context, _ pgx.Tx, slotID string, qty int) (*delivery.Slot, error) {
	s, ok := m.slots[slotID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "slot %s not found", slotID)
	}
	if !s.CanAccommodate(qty) {
		return nil, apperr.New(apperr.KindConflict,
			"booking capacity exceeded for slot %s: reserved %d of %d, requested %d",
			slotID, s.Reserved, s.MaxCapacity, qty)
	}
	s.Reserved += qty
	cp := *s
	return &cp, nil
}

func (m *mockSlots) ReleaseSlot(_ context.Context, _ pgx.Tx, slotID string, qty int) error {
	s, ok := m.slots[slotID]
	if !ok || s.Reserved < qty {
		return apperr.New(apperr.KindConflict, "slot %s cannot release %d units", slotID, qty)
	}
	s.Reserved -= qty
	return nil
}

type mockLedger struct {
	posted   map[string][]wallet.SaleLine
	released []string
	reversed []string
}

func (m *mockLedger) PostSale(_ context.Context, _ pgx.Tx, orderID string, lines []wallet.SaleLine) error {
	m.posted[orderID] = lines
	return nil
}

func (m *mockLedger) ReleaseOnDelivery(_ context.Context, _ pgx.Tx, orderID string) error {
	m.released = append(m.released, orderID)
	return nil
}

func (m *mockLedger) ReverseSale(_ context.Context, _ pgx.Tx, orderID string) error {
	m.reversed = append(m.reversed, orderID)
	return nil
}

type fixture struct {
	svc    *Service
	store  *mockOrderStore
	stock  *mockStock
	slots  *mockSlots
	ledger *mockLedger
}

const (
	buyerID    = "buyer-1"
	producerID = "producer-1"
)

var (
	buyer    = Actor{ID: buyerID, Role: RoleBuyer}
	producer = Actor{ID: producerID, Role: RoleProducer}
	admin    = Actor{ID: "admin-1", Role: RoleAdmin}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &mockOrderStore{orders: make(map[string]*Order)},
		stock: &mockStock{quantities: map[string]int{
			"shiitake": 100,
			"oyster":   50,
			"truffle":  5,
		}},
		slots: &mockSlots{slots: map[string]*delivery.Slot{
			"slot-1": {ID: "slot-1", ProductID: "fresh-porcini", MaxCapacity: 50, Available: true},
		}},
		ledger: &mockLedger{posted: make(map[string][]wallet.SaleLine)},
	}
	catalog := &mockCatalog{products: map[string]inventory.Product{
		"shiitake":      {ID: "shiitake", ProducerID: producerID, PriceCents: 1300, TracksStock: true},
		"oyster":        {ID: "oyster", ProducerID: "producer-2", PriceCents: 900, TracksStock: true},
		"truffle":       {ID: "truffle", ProducerID: producerID, PriceCents: 25000, TracksStock: true},
		"fresh-porcini": {ID: "fresh-porcini", ProducerID: producerID, PriceCents: 2200, RequiresSlot: true, TracksStock: true},
	}}
	f.stock.quantities["fresh-porcini"] = 80
	n := 0
	f.svc = &Service{
		Store:    f.store,
		Catalog:  catalog,
		Stock:    f.stock,
		Slots:    f.slots,
		Ledger:   f.ledger,
		Tx:       fakeRunner{},
		HoldTTL:  15 * time.Minute,
		Currency: "EUR",
		NewID:    func() string { n++; return fmt.Sprintf("id-%d", n) },
	}
	return f
}

func (f *fixture) draft(t *testing.T, items ...ItemInput) *Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), CreateInput{BuyerID: buyerID, Items: items})
	require.NoError(t, err)
	return o
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("draft with initial items reserves stock", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 5})

		assert.Equal(t, StatusDraft, o.Status)
		assert.Equal(t, money.Cents(6500), o.Total)
		assert.Equal(t, 95, f.stock.quantities["shiitake"])
		require.Len(t, o.Items, 1)
		assert.Equal(t, money.Cents(1300), o.Items[0].PriceCents)
	})

	t.Run("idempotent on client ref", func(t *testing.T) {
		f := newFixture(t)
		in := CreateInput{
			ClientRef: "checkout-abc",
			BuyerID:   buyerID,
			Items:     []ItemInput{{ProductID: "shiitake", Qty: 5}},
		}
		first, err := f.svc.Create(ctx, in)
		require.NoError(t, err)
		second, err := f.svc.Create(ctx, in)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 95, f.stock.quantities["shiitake"], "retry must not reserve twice")
	})

	t.Run("client ref is scoped per buyer", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.svc.Create(ctx, CreateInput{ClientRef: "checkout-abc", BuyerID: buyerID})
		require.NoError(t, err)
		second, err := f.svc.Create(ctx, CreateInput{ClientRef: "checkout-abc", BuyerID: "buyer-2"})
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID, "a ref collision must not surface another buyer's order")
		assert.Equal(t, "buyer-2", second.BuyerID)
	})

	t.Run("home delivery requires an address", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, CreateInput{
			BuyerID:  buyerID,
			Delivery: DeliveryDetails{Kind: DeliveryHome},
		})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("slot-only product cannot be a plain item", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, CreateInput{
			BuyerID: buyerID,
			Items:   []ItemInput{{ProductID: "fresh-porcini", Qty: 2}},
		})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()

	t.Run("failed reservation leaves stock untouched", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 5})
		require.Equal(t, 95, f.stock.quantities["shiitake"])

		_, err := f.svc.AddItem(ctx, o.ID, "shiitake", 1000, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Contains(t, err.Error(), "available 95")
		assert.Equal(t, 95, f.stock.quantities["shiitake"])
		assert.Equal(t, money.Cents(6500), f.store.orders[o.ID].Total, "total unchanged on failure")
	})

	t.Run("total tracks every added line", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 5})
		out, err := f.svc.AddItem(ctx, o.ID, "oyster", 2, buyer)
		require.NoError(t, err)
		assert.Equal(t, money.Cents(6500+1800), out.Total)
		assert.Equal(t, 48, f.stock.quantities["oyster"])
	})

	t.Run("another buyer may not touch the order", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 1})
		_, err := f.svc.AddItem(ctx, o.ID, "oyster", 1, Actor{ID: "buyer-2", Role: RoleBuyer})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("closed orders are immutable", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 1})
		f.store.orders[o.ID].Status = StatusConfirmed

		_, err := f.svc.AddItem(ctx, o.ID, "oyster", 1, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 5}, ItemInput{ProductID: "oyster", Qty: 2})
	require.Equal(t, 95, f.stock.quantities["shiitake"])

	out, err := f.svc.RemoveItem(context.Background(), o.ID, o.Items[0].ID, buyer)
	require.NoError(t, err)

	assert.Equal(t, 100, f.stock.quantities["shiitake"], "stock restored on removal")
	assert.Equal(t, money.Cents(1800), out.Total)
	assert.Len(t, f.store.orders[o.ID].Items, 1)
}

func TestAddBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("books capacity and stock together", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t)
		out, err := f.svc.AddBooking(ctx, o.ID, "slot-1", 10, false, buyer)
		require.NoError(t, err)

		require.Len(t, out.Bookings, 1)
		b := out.Bookings[0]
		assert.Equal(t, BookingPending, b.Status)
		assert.Nil(t, b.ExpiresAt)
		assert.Equal(t, 10, f.slots.slots["slot-1"].Reserved)
		assert.Equal(t, 70, f.stock.quantities["fresh-porcini"])
		assert.Equal(t, money.Cents(22000), out.Total)
	})

	t.Run("hold creates a temporary booking with expiry", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t)
		out, err := f.svc.AddBooking(ctx, o.ID, "slot-1", 3, true, buyer)
		require.NoError(t, err)

		b := out.Bookings[0]
		assert.Equal(t, BookingTemporary, b.Status)
		require.NotNil(t, b.ExpiresAt)
		assert.WithinDuration(t, time.Now().UTC().Add(15*time.Minute), *b.ExpiresAt, 5*time.Second)
	})

	t.Run("capacity ceiling holds across bookings", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t)

		_, err := f.svc.AddBooking(ctx, o.ID, "slot-1", 60, false, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Equal(t, 0, f.slots.slots["slot-1"].Reserved)

		_, err = f.svc.AddBooking(ctx, o.ID, "slot-1", 30, false, buyer)
		require.NoError(t, err)
		_, err = f.svc.AddBooking(ctx, o.ID, "slot-1", 21, false, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Equal(t, 30, f.slots.slots["slot-1"].Reserved)
	})
}

func TestRemoveBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.draft(t)
	out, err := f.svc.AddBooking(ctx, o.ID, "slot-1", 10, false, buyer)
	require.NoError(t, err)
	bookingID := out.Bookings[0].ID

	out, err = f.svc.RemoveBooking(ctx, o.ID, bookingID, buyer)
	require.NoError(t, err)

	assert.Equal(t, 0, f.slots.slots["slot-1"].Reserved)
	assert.Equal(t, 80, f.stock.quantities["fresh-porcini"])
	assert.Equal(t, money.Cents(0), out.Total, "cancelled booking drops out of the total")

	_, err = f.svc.RemoveBooking(ctx, o.ID, bookingID, buyer)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "double removal is rejected")
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("buyer submits a draft", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 2})
		out, err := f.svc.Submit(ctx, o.ID, buyer)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, out.Status)
	})

	t.Run("empty orders cannot be submitted", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t)
		_, err := f.svc.Submit(ctx, o.ID, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("producer cannot submit a buyer's draft", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 2})
		_, err := f.svc.Submit(ctx, o.ID, producer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})
}

func TestChangeStatus(t *testing.T) {
	ctx := context.Background()

	pending := func(t *testing.T, f *fixture, items ...ItemInput) *Order {
		t.Helper()
		o := f.draft(t, items...)
		out, err := f.svc.Submit(ctx, o.ID, buyer)
		require.NoError(t, err)
		return out
	}

	t.Run("confirmation posts the sale per producer", func(t *testing.T) {
		f := newFixture(t)
		o := pending(t, f,
			ItemInput{ProductID: "shiitake", Qty: 5}, // producer-1, 6500
			ItemInput{ProductID: "oyster", Qty: 2},   // producer-2, 1800
		)
		out, err := f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, producer)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, out.Status)

		lines := f.ledger.posted[o.ID]
		require.Len(t, lines, 2)
		byProducer := map[string]money.Cents{}
		for _, l := range lines {
			byProducer[l.ProducerID] = l.Subtotal
		}
		assert.Equal(t, money.Cents(6500), byProducer[producerID])
		assert.Equal(t, money.Cents(1800), byProducer["producer-2"])
	})

	t.Run("confirmation firms up temporary bookings", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t)
		_, err := f.svc.AddBooking(ctx, o.ID, "slot-1", 5, true, buyer)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, o.ID, buyer)
		require.NoError(t, err)

		out, err := f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, producer)
		require.NoError(t, err)
		assert.Equal(t, BookingConfirmed, out.Bookings[0].Status)
		assert.Nil(t, out.Bookings[0].ExpiresAt, "confirmed bookings no longer expire")
	})

	t.Run("delivery releases the funds", func(t *testing.T) {
		f := newFixture(t)
		o := pending(t, f, ItemInput{ProductID: "shiitake", Qty: 1})
		_, err := f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, producer)
		require.NoError(t, err)
		_, err = f.svc.ChangeStatus(ctx, o.ID, StatusShipped, producer)
		require.NoError(t, err)
		out, err := f.svc.ChangeStatus(ctx, o.ID, StatusDelivered, producer)
		require.NoError(t, err)

		assert.Equal(t, StatusDelivered, out.Status)
		assert.Equal(t, []string{o.ID}, f.ledger.released)
	})

	t.Run("producer without lines may not drive the order", func(t *testing.T) {
		f := newFixture(t)
		o := pending(t, f, ItemInput{ProductID: "shiitake", Qty: 1})
		stranger := Actor{ID: "producer-999", Role: RoleProducer}

		_, err := f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, stranger)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
		assert.Empty(t, f.ledger.posted)
		assert.Equal(t, StatusPending, f.store.orders[o.ID].Status)

		// a producer with a line on the order still may
		_, err = f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, producer)
		require.NoError(t, err)
	})

	t.Run("buyer may not confirm", func(t *testing.T) {
		f := newFixture(t)
		o := pending(t, f, ItemInput{ProductID: "shiitake", Qty: 1})
		_, err := f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
		assert.Empty(t, f.ledger.posted)
	})

	t.Run("skipping states is rejected for everyone", func(t *testing.T) {
		f := newFixture(t)
		o := pending(t, f, ItemInput{ProductID: "shiitake", Qty: 1})
		_, err := f.svc.ChangeStatus(ctx, o.ID, StatusDelivered, admin)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	confirmed := func(t *testing.T, f *fixture, items ...ItemInput) *Order {
		t.Helper()
		o := f.draft(t, items...)
		_, err := f.svc.Submit(ctx, o.ID, buyer)
		require.NoError(t, err)
		out, err := f.svc.ChangeStatus(ctx, o.ID, StatusConfirmed, producer)
		require.NoError(t, err)
		return out
	}

	t.Run("restores stock and reverses the sale", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f, ItemInput{ProductID: "shiitake", Qty: 5})
		require.Equal(t, 95, f.stock.quantities["shiitake"])

		out, err := f.svc.Cancel(ctx, o.ID, producer)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, out.Status)
		assert.Equal(t, 100, f.stock.quantities["shiitake"])
		assert.Equal(t, []string{o.ID}, f.ledger.reversed)
	})

	t.Run("releases booked slot capacity", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t)
		_, err := f.svc.AddBooking(ctx, o.ID, "slot-1", 10, false, buyer)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, o.ID, buyer)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, o.ID, buyer)
		require.NoError(t, err)
		assert.Equal(t, 0, f.slots.slots["slot-1"].Reserved)
		assert.Equal(t, 80, f.stock.quantities["fresh-porcini"])
	})

	t.Run("cancelling twice is a no-op success", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f, ItemInput{ProductID: "shiitake", Qty: 5})
		_, err := f.svc.Cancel(ctx, o.ID, producer)
		require.NoError(t, err)
		out, err := f.svc.Cancel(ctx, o.ID, producer)
		require.NoError(t, err)

		assert.Equal(t, StatusCancelled, out.Status)
		assert.Equal(t, 100, f.stock.quantities["shiitake"], "second cancel must not restore again")
		assert.Len(t, f.ledger.reversed, 1)
	})

	t.Run("producer without lines cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f, ItemInput{ProductID: "shiitake", Qty: 5})
		stranger := Actor{ID: "producer-999", Role: RoleProducer}

		_, err := f.svc.Cancel(ctx, o.ID, stranger)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
		assert.Empty(t, f.ledger.reversed, "no funds move for a stranger producer")
		assert.Equal(t, 95, f.stock.quantities["shiitake"])
		assert.Equal(t, StatusConfirmed, f.store.orders[o.ID].Status)
	})

	t.Run("buyer cannot cancel once confirmed", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f, ItemInput{ProductID: "shiitake", Qty: 1})
		_, err := f.svc.Cancel(ctx, o.ID, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
		assert.Equal(t, StatusConfirmed, f.store.orders[o.ID].Status)
	})

	t.Run("draft orders cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		o := f.draft(t, ItemInput{ProductID: "shiitake", Qty: 1})
		_, err := f.svc.Cancel(ctx, o.ID, buyer)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})
}
