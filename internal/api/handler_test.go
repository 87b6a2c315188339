package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"storefront-service/internal/catalog"
	"storefront-service/internal/models"
	"storefront-service/internal/payment"
	"storefront-service/internal/service"
	"storefront-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend implements both the service store surface and the auth client
// lookup.
type fakeBackend struct {
	client *models.Client
	order  *models.Order
	items  []models.OrderItem

	createCalls int
}

func (f *fakeBackend) GetClientByID(_ context.Context, id int64) (*models.Client, error) {
	if f.client == nil || f.client.ID != id {
		return nil, models.ErrNotFound
	}
	return f.client, nil
}

func (f *fakeBackend) GetClientByTgID(_ context.Context, tgID int64) (*models.Client, error) {
	if f.client == nil || f.client.TgID != tgID {
		return nil, models.ErrNotFound
	}
	return f.client, nil
}

func (f *fakeBackend) GetClientByEmail(_ context.Context, email string) (*models.Client, error) {
	if f.client == nil || f.client.Email != email {
		return nil, models.ErrNotFound
	}
	return f.client, nil
}

func (f *fakeBackend) GetPickupPoint(_ context.Context, _ int64) (*models.PickupPoint, error) {
	return nil, models.ErrNotFound
}

func (f *fakeBackend) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem, _ *store.ContactUpdate) ([]int64, error) {
	f.createCalls++
	order.ID = 42
	f.order = order
	f.items = items
	return []int64{100}, nil
}

func (f *fakeBackend) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, models.ErrNotFound
	}
	return f.order, nil
}

func (f *fakeBackend) GetOrderItemsByOrderID(_ context.Context, _ int64) ([]models.OrderItem, error) {
	return f.items, nil
}

type fakeCatalogGateway struct {
	products []catalog.Product
}

func (f *fakeCatalogGateway) FetchProducts(_ context.Context, _ []int64) ([]catalog.Product, error) {
	return f.products, nil
}

func (f *fakeCatalogGateway) Touch(_ context.Context, _ catalog.Entity, _ int64) error {
	return nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyOrderCreated(_ *models.OrderCreatedEvent) {}

type fakeTransitioner struct {
	applied bool
	calls   int
	lastTo  string
}

func (f *fakeTransitioner) TransitionOrderStatus(_ context.Context, _ int64, status string) (bool, error) {
	f.calls++
	f.lastTo = status
	return f.applied, nil
}

type noopStatusPublisher struct{}

func (noopStatusPublisher) PublishOrderStatusChanged(_ context.Context, _ *models.OrderStatusChangedEvent) error {
	return nil
}

func activeClient() *models.Client {
	return &models.Client{
		ID:     1,
		TgID:   555,
		Email:  "client@example.com",
		Status: models.ClientStatusActive,
	}
}

// initDataFor builds unsigned init data; routers under test run with auth
// verification disabled.
func initDataFor(tgID string) string {
	values := url.Values{}
	values.Set("user", `{"id":`+tgID+`}`)
	return values.Encode()
}

type routerDeps struct {
	backend      *fakeBackend
	transitioner *fakeTransitioner
	gatewayURL   string
}

func testRouter(t *testing.T, deps *routerDeps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if deps.backend == nil {
		deps.backend = &fakeBackend{client: activeClient()}
	}
	if deps.transitioner == nil {
		deps.transitioner = &fakeTransitioner{applied: true}
	}

	price := decimal.RequireFromString("150")
	orderService := service.NewOrderService(deps.backend, &fakeCatalogGateway{
		products: []catalog.Product{{
			ID:              10,
			Name:            "Widget",
			Price:           price,
			DiscountedPrice: price,
			TaxClass:        models.TaxClassVat20,
		}},
	}, noopNotifier{})

	gateway := payment.NewGateway(payment.GatewayConfig{
		BaseURL:       deps.gatewayURL,
		TerminalKey:   "terminal-1",
		SecretKey:     "secret-1",
		PublicURL:     "https://shop.example.com",
		MaxAttempts:   1,
		RetryInterval: time.Millisecond,
	})

	reconciler, err := payment.NewReconciler(payment.ReconcilerConfig{
		TerminalKey: "terminal-1",
		SecretKey:   "secret-1",
		VerifyToken: false,
	}, deps.transitioner, noopStatusPublisher{})
	require.NoError(t, err)

	authn := NewAuthenticator(deps.backend, "", false)

	router := gin.New()
	NewHandler(orderService, gateway, reconciler, authn).SetupRoutes(router)
	return router
}

func doJSON(router *gin.Engine, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set(initDataHeader, initDataFor("555"))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderEndpoint(t *testing.T) {
	deps := &routerDeps{}
	router := testRouter(t, deps)

	rec := doJSON(router, http.MethodPost, "/api/order", map[string]interface{}{
		"name":     "Ivan Petrov",
		"phone":    "+79991234567",
		"delivery": "курьером",
		"payBy":    "картой",
		"products": []map[string]interface{}{{"id": 10, "quantity": 3}},
	}, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(42), resp["orderID"])

	// Wire values arrive translated to canonical methods.
	assert.Equal(t, models.DeliveryMethodCourier, deps.backend.order.DeliveryMethod)
	assert.Equal(t, models.PaymentMethodCard, deps.backend.order.PaymentMethod)
}

func TestCreateOrderMissingPhone(t *testing.T) {
	deps := &routerDeps{}
	router := testRouter(t, deps)

	rec := doJSON(router, http.MethodPost, "/api/order", map[string]interface{}{
		"name":     "Ivan Petrov",
		"delivery": "курьером",
		"payBy":    "картой",
		"products": []map[string]interface{}{{"id": 10, "quantity": 1}},
	}, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Bad Request"}`, rec.Body.String())
	assert.Zero(t, deps.backend.createCalls)
}

func TestCreateOrderUnknownWireValue(t *testing.T) {
	router := testRouter(t, &routerDeps{})

	rec := doJSON(router, http.MethodPost, "/api/order", map[string]interface{}{
		"name":     "Ivan Petrov",
		"phone":    "+79991234567",
		"delivery": "teleport",
		"payBy":    "картой",
	}, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderEndpointsRequireAuth(t *testing.T) {
	router := testRouter(t, &routerDeps{})

	rec := doJSON(router, http.MethodPost, "/api/order", map[string]interface{}{}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestInactiveClientIsRejected(t *testing.T) {
	client := activeClient()
	client.Status = models.ClientStatusInactive
	router := testRouter(t, &routerDeps{backend: &fakeBackend{client: client}})

	rec := doJSON(router, http.MethodPost, "/api/order", map[string]interface{}{}, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitPaymentEndpoint(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"Success":    true,
			"Amount":     45000,
			"PaymentId":  "9001",
			"PaymentURL": "https://pay.example.com/9001",
		})
	}))
	defer provider.Close()

	backend := &fakeBackend{
		client: activeClient(),
		order:  &models.Order{ID: 42, ClientID: 1, Title: "Заказ №42"},
		items: []models.OrderItem{{
			Name:            "Widget",
			Quantity:        3,
			DiscountedPrice: decimal.RequireFromString("150"),
			Amount:          decimal.RequireFromString("450"),
			TaxClass:        models.TaxClassVat20,
		}},
	}
	router := testRouter(t, &routerDeps{backend: backend, gatewayURL: provider.URL})

	rec := doJSON(router, http.MethodPost, "/api/payment/tbank/init",
		map[string]interface{}{"orderID": 42}, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["error"])
	assert.Equal(t, float64(45000), resp["amount"])
	assert.Equal(t, "9001", resp["paymentID"])
	assert.Equal(t, "https://pay.example.com/9001", resp["url"])
}

func TestInitPaymentGatewayFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"Success":   false,
			"ErrorCode": "204",
			"Message":   "Invalid token",
		})
	}))
	defer provider.Close()

	backend := &fakeBackend{
		client: activeClient(),
		order:  &models.Order{ID: 42, ClientID: 1},
	}
	router := testRouter(t, &routerDeps{backend: backend, gatewayURL: provider.URL})

	rec := doJSON(router, http.MethodPost, "/api/payment/tbank/init",
		map[string]interface{}{"orderID": 42}, true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":true,"reason":"204"}`, rec.Body.String())
}

func TestInitPaymentForeignOrder(t *testing.T) {
	backend := &fakeBackend{
		client: activeClient(),
		order:  &models.Order{ID: 42, ClientID: 9},
	}
	router := testRouter(t, &routerDeps{backend: backend})

	rec := doJSON(router, http.MethodPost, "/api/payment/tbank/init",
		map[string]interface{}{"orderID": 42}, true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentWebhookEndpoint(t *testing.T) {
	deps := &routerDeps{transitioner: &fakeTransitioner{applied: true}}
	router := testRouter(t, deps)

	body, _ := json.Marshal(map[string]interface{}{
		"TerminalKey": "terminal-1",
		"OrderId":     42,
		"Success":     true,
		"Status":      "CONFIRMED",
		"PaymentId":   9001,
	})
	req := httptest.NewRequest(http.MethodPost, "/hook/payment/tbank/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "91.194.226.10:33000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, 1, deps.transitioner.calls)
	assert.Equal(t, models.OrderStatusPaid, deps.transitioner.lastTo)
}

func TestPaymentWebhookIgnoresForwardedFor(t *testing.T) {
	deps := &routerDeps{transitioner: &fakeTransitioner{applied: true}}
	router := testRouter(t, deps)

	body, _ := json.Marshal(map[string]interface{}{
		"TerminalKey": "terminal-1",
		"OrderId":     42,
		"Success":     true,
		"Status":      "CONFIRMED",
	})
	req := httptest.NewRequest(http.MethodPost, "/hook/payment/tbank/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	// A spoofed forwarded header must not override the peer address.
	req.Header.Set("X-Forwarded-For", "91.194.226.10")
	req.RemoteAddr = "203.0.113.5:33000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, deps.transitioner.calls)
}

func TestPaymentWebhookRejectsUnknownSource(t *testing.T) {
	deps := &routerDeps{transitioner: &fakeTransitioner{applied: true}}
	router := testRouter(t, deps)

	body, _ := json.Marshal(map[string]interface{}{
		"TerminalKey": "terminal-1",
		"OrderId":     42,
		"Success":     true,
		"Status":      "CONFIRMED",
	})
	req := httptest.NewRequest(http.MethodPost, "/hook/payment/tbank/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.5:33000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, deps.transitioner.calls)
}
