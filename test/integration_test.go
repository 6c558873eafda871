//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adumitrescu/onlineshop/internal/auth"
	"github.com/adumitrescu/onlineshop/internal/catalog"
	"github.com/adumitrescu/onlineshop/internal/domain"
	"github.com/adumitrescu/onlineshop/internal/messaging"
	"github.com/adumitrescu/onlineshop/internal/orders"
)

type env struct {
	t        *testing.T
	ctx      context.Context
	db       *sql.DB
	users    *auth.UserRepository
	products *catalog.ProductRepository
	orders   *orders.OrderRepository
	mux      *http.ServeMux
}

func newEnv(ctx context.Context, t *testing.T, db *sql.DB, producer *messaging.Producer) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	userRepo := auth.NewUserRepository(db)
	gate := auth.NewGate(userRepo, logger)

	productRepo := catalog.NewProductRepository(db)
	productHandler := catalog.NewHandler(productRepo, gate, logger)

	orderRepo := orders.NewOrderRepository(db)
	orderHandler := orders.NewHandler(orderRepo, gate, producer, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /products", productHandler.HandleAdd)
	mux.HandleFunc("GET /products", productHandler.HandleList)
	mux.HandleFunc("GET /products/{code}", productHandler.HandleGet)
	mux.HandleFunc("PUT /products/{code}", productHandler.HandleUpdate)
	mux.HandleFunc("DELETE /products/{code}", productHandler.HandleDelete)
	mux.HandleFunc("PATCH /products/{code}/stock", productHandler.HandleAddStock)
	mux.HandleFunc("POST /orders", orderHandler.HandlePlace)
	mux.HandleFunc("GET /orders", orderHandler.HandleList)
	mux.HandleFunc("GET /orders/{id}", orderHandler.HandleGet)
	mux.HandleFunc("PATCH /orders/{id}/deliver", orderHandler.HandleDeliver)
	mux.HandleFunc("PATCH /orders/{id}/cancel", orderHandler.HandleCancel)
	mux.HandleFunc("PATCH /orders/{id}/return", orderHandler.HandleReturn)

	return &env{
		t:        t,
		ctx:      ctx,
		db:       db,
		users:    userRepo,
		products: productRepo,
		orders:   orderRepo,
		mux:      mux,
	}
}

func (e *env) createUser(role domain.Role) *domain.User {
	e.t.Helper()

	user := &domain.User{Email: string(role) + "@example.com", Role: role}
	if err := e.users.Create(e.ctx, user); err != nil {
		e.t.Fatalf("failed to create %s user: %v", role, err)
	}
	return user
}

func (e *env) createProduct(code string, stock int) *domain.Product {
	e.t.Helper()

	product := &domain.Product{
		Code:     code,
		Price:    decimal.RequireFromString("19.99"),
		Currency: domain.CurrencyRON,
		Stock:    stock,
		Valid:    true,
	}
	if err := e.products.Create(e.ctx, product); err != nil {
		e.t.Fatalf("failed to create product %s: %v", code, err)
	}
	return product
}

func (e *env) stock(code string) int {
	e.t.Helper()

	product, err := e.products.GetByCode(e.ctx, code)
	if err != nil {
		e.t.Fatalf("failed to get product %s: %v", code, err)
	}
	if product == nil {
		e.t.Fatalf("product %s not found", code)
	}
	return product.Stock
}

func (e *env) do(method, path, body, actorID string) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *env) placeOrder(customerID string, items map[string]int) *httptest.ResponseRecorder {
	e.t.Helper()

	body, err := json.Marshal(map[string]any{"customer_id": customerID, "items": items})
	if err != nil {
		e.t.Fatalf("failed to marshal order request: %v", err)
	}
	return e.do(http.MethodPost, "/orders", string(body), "")
}

func (e *env) placedOrder(rec *httptest.ResponseRecorder) domain.Order {
	e.t.Helper()

	if rec.Code != http.StatusCreated {
		e.t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var order domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		e.t.Fatalf("failed to decode order: %v", err)
	}
	return order
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp["error"]
}

func TestPlaceDeliverReturnRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)
	expeditor := e.createUser(domain.RoleExpeditor)
	product := e.createProduct("round-trip", 10)

	order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 3}))
	if got := e.stock("round-trip"); got != 7 {
		t.Fatalf("expected stock 7 after placement, got %d", got)
	}

	rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/deliver", "", expeditor.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPatch, "/orders/"+order.ID+"/return", "", client.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("return: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if got := e.stock("round-trip"); got != 10 {
		t.Fatalf("expected stock restored to 10 after return, got %d", got)
	}

	stored, err := e.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if !stored.Delivered || !stored.Returned || stored.Canceled {
		t.Fatalf("unexpected flags: %+v", stored)
	}
}

func TestPlaceWithInsufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)

	t.Run("second placement is rejected once stock runs out", func(t *testing.T) {
		code1 := e.createProduct("code1", 1)
		e.createProduct("code2", 1)

		e.placedOrder(e.placeOrder(client.ID, map[string]int{code1.ID: 1}))
		if got := e.stock("code1"); got != 0 {
			t.Fatalf("expected stock 0, got %d", got)
		}

		rec := e.placeOrder(client.ID, map[string]int{code1.ID: 1})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d: %s", rec.Code, rec.Body.String())
		}
		if errorMessage(t, rec) != "not enough stock" {
			t.Fatalf("unexpected error message: %s", errorMessage(t, rec))
		}
	})

	t.Run("mixed order leaves every stock untouched", func(t *testing.T) {
		plenty := e.createProduct("plenty", 5)
		scarce := e.createProduct("scarce", 1)

		rec := e.placeOrder(client.ID, map[string]int{plenty.ID: 2, scarce.ID: 2})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := e.stock("plenty"); got != 5 {
			t.Fatalf("expected stock 5 unchanged, got %d", got)
		}
		if got := e.stock("scarce"); got != 1 {
			t.Fatalf("expected stock 1 unchanged, got %d", got)
		}
	})
}

func TestDeliverCancelConflicts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)
	expeditor := e.createUser(domain.RoleExpeditor)
	product := e.createProduct("conflicts", 100)

	t.Run("cancel after delivery fails", func(t *testing.T) {
		order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 1}))

		rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/deliver", "", expeditor.ID)
		if rec.Code != http.StatusOK {
			t.Fatalf("deliver: expected status 200, got %d", rec.Code)
		}

		rec = e.do(http.MethodPatch, "/orders/"+order.ID+"/cancel", "", client.ID)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
		if errorMessage(t, rec) != "order was already delivered" {
			t.Fatalf("unexpected error message: %s", errorMessage(t, rec))
		}
	})

	t.Run("deliver after cancellation fails", func(t *testing.T) {
		order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 1}))

		rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/cancel", "", client.ID)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel: expected status 200, got %d", rec.Code)
		}

		rec = e.do(http.MethodPatch, "/orders/"+order.ID+"/deliver", "", expeditor.ID)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
		if errorMessage(t, rec) != "order was canceled" {
			t.Fatalf("unexpected error message: %s", errorMessage(t, rec))
		}
	})

	t.Run("return before delivery fails", func(t *testing.T) {
		order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 1}))

		rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/return", "", client.ID)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
		if errorMessage(t, rec) != "order was not delivered yet" {
			t.Fatalf("unexpected error message: %s", errorMessage(t, rec))
		}
	})
}

func TestCancelDoesNotRestock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)
	product := e.createProduct("cancel-keeps", 10)

	order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 3}))

	rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/cancel", "", client.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected status 200, got %d", rec.Code)
	}

	// Cancellation keeps the reservation; only a return restores stock.
	if got := e.stock("cancel-keeps"); got != 7 {
		t.Fatalf("expected stock to stay at 7 after cancel, got %d", got)
	}
}

func TestRolePolicy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)
	expeditor := e.createUser(domain.RoleExpeditor)
	admin := e.createUser(domain.RoleAdmin)
	product := e.createProduct("policy", 100)
	order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 1}))

	t.Run("admin is denied every lifecycle operation", func(t *testing.T) {
		rec := e.placeOrder(admin.ID, map[string]int{product.ID: 1})
		if rec.Code != http.StatusForbidden {
			t.Errorf("place: expected status 403, got %d", rec.Code)
		}

		for _, action := range []string{"deliver", "cancel", "return"} {
			rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/"+action, "", admin.ID)
			if rec.Code != http.StatusForbidden {
				t.Errorf("%s: expected status 403, got %d", action, rec.Code)
			}
			if errorMessage(t, rec) != "operation not permitted" {
				t.Errorf("%s: unexpected error message: %s", action, errorMessage(t, rec))
			}
		}
	})

	t.Run("expeditor cannot place", func(t *testing.T) {
		rec := e.placeOrder(expeditor.ID, map[string]int{product.ID: 1})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("client cannot deliver", func(t *testing.T) {
		rec := e.do(http.MethodPatch, "/orders/"+order.ID+"/deliver", "", client.ID)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("client cannot manage products", func(t *testing.T) {
		rec := e.do(http.MethodPost, "/products", `{"code": "client-made", "price": "1.00", "currency": "RON"}`, client.ID)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rec.Code)
		}
	})
}

func TestUnknownIdentifiers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)
	expeditor := e.createUser(domain.RoleExpeditor)

	t.Run("unknown customer", func(t *testing.T) {
		rec := e.placeOrder(uuid.NewString(), map[string]int{uuid.NewString(): 1})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
		if errorMessage(t, rec) != "invalid customer id" {
			t.Fatalf("unexpected error message: %s", errorMessage(t, rec))
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		rec := e.placeOrder(client.ID, map[string]int{uuid.NewString(): 1})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
		if errorMessage(t, rec) != "invalid product id" {
			t.Fatalf("unexpected error message: %s", errorMessage(t, rec))
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			rec := e.do(http.MethodPatch, "/orders/"+id+"/deliver", "", expeditor.ID)
			if rec.Code != http.StatusNotFound {
				t.Errorf("%s: expected status 404, got %d", id, rec.Code)
			}
		}
	})

	t.Run("unknown product code", func(t *testing.T) {
		rec := e.do(http.MethodGet, "/products/ghost", "", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestProductManagement(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	admin := e.createUser(domain.RoleAdmin)
	editor := e.createUser(domain.RoleEditor)

	rec := e.do(http.MethodPost, "/products",
		`{"code": "managed", "description": "a gadget", "price": "45.50", "currency": "EUR", "stock": 4, "valid": true}`, admin.ID)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPut, "/products/managed",
		`{"description": "a better gadget", "price": "39.99", "currency": "EUR", "stock": 4, "valid": true}`, editor.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPatch, "/products/managed/stock", `{"quantity": 6}`, admin.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("add stock: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := e.stock("managed"); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}

	product, err := e.products.GetByCode(ctx, "managed")
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if product.Description != "a better gadget" {
		t.Fatalf("unexpected description: %s", product.Description)
	}
	if !product.Price.Equal(decimal.RequireFromString("39.99")) {
		t.Fatalf("unexpected price: %s", product.Price)
	}

	rec = e.do(http.MethodDelete, "/products/managed", "", admin.ID)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected status 204, got %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/products/managed", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestConcurrentPlacementsDoNotOversell(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	e := newEnv(ctx, t, db, nil)
	client := e.createUser(domain.RoleClient)
	product := e.createProduct("contested", 1)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.orders.Place(ctx, client.ID, []domain.OrderItem{{ProductID: product.ID, Quantity: 1}})
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrNotEnoughStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful placement, got %d", succeeded)
	}
	if rejected != attempts-1 {
		t.Fatalf("expected %d rejections, got %d", attempts-1, rejected)
	}
	if got := e.stock("contested"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)
	defer func() { _ = db.Close() }()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	producer := messaging.NewProducer(brokers, messaging.LifecycleTopic)
	defer func() { _ = producer.Close() }()

	e := newEnv(ctx, t, db, producer)
	client := e.createUser(domain.RoleClient)
	product := e.createProduct("evented", 5)

	order := e.placedOrder(e.placeOrder(client.ID, map[string]int{product.ID: 2}))

	consumer := messaging.NewConsumer(brokers, messaging.LifecycleTopic, fmt.Sprintf("test-%d", time.Now().UnixNano()))
	defer func() { _ = consumer.Close() }()

	received := make(chan domain.OrderEvent, 1)
	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
			var event domain.OrderEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return err
			}
			received <- event
			stopConsumer()
			return nil
		})
	}()

	select {
	case event := <-received:
		if event.Type != domain.OrderEventPlaced {
			t.Fatalf("expected placed event, got %s", event.Type)
		}
		if event.OrderID != order.ID {
			t.Fatalf("expected order %s, got %s", order.ID, event.OrderID)
		}
		if len(event.Items) != 1 || event.Items[0].Quantity != 2 {
			t.Fatalf("unexpected event items: %+v", event.Items)
		}
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for the lifecycle event")
	}
}
