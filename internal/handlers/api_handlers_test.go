package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

type stubOrderService struct {
	createErr error
	order     *entities.Order

	transitionErr error
	paidOperator  int64
}

func (s *stubOrderService) CreateOrder(_ context.Context, req ports.CreateOrderRequest) (*entities.Order, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	order := *s.order
	order.Currency = req.Currency
	return &order, nil
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID string) (*entities.Order, error) {
	if s.order != nil && s.order.ID == orderID {
		return s.order, nil
	}
	return nil, ports.ErrOrderNotFound
}

func (s *stubOrderService) MarkPaid(_ context.Context, _ string, operatorID int64) error {
	s.paidOperator = operatorID
	return s.transitionErr
}

func (s *stubOrderService) CompleteOrder(context.Context, string) error { return s.transitionErr }
func (s *stubOrderService) CancelOrder(context.Context, string) error   { return s.transitionErr }

type stubWalletService struct {
	wallets []entities.Wallet
}

func (s *stubWalletService) ListWallets(context.Context, string) ([]entities.Wallet, error) {
	return s.wallets, nil
}

func testServer(orders OrderService, wallets WalletService) *httptest.Server {
	router := mux.NewRouter()
	NewHTTPHandler(slog.Default(), orders, wallets).RegisterRoutes(router)
	return httptest.NewServer(router)
}

func sampleOrder() *entities.Order {
	return &entities.Order{
		ID:             "ord-123",
		Status:         entities.OrderPending,
		Currency:       "USDT",
		DepositAddress: "0xAAA",
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	srv := testServer(&stubOrderService{order: sampleOrder()}, &stubWalletService{})
	defer srv.Close()

	body := `{"currency":"USDT","crypto_amount":"150.5","uah_amount":"6300.00"}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var order entities.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&order))
	require.Equal(t, "ord-123", order.ID)
	require.Equal(t, "0xAAA", order.DepositAddress)
}

func TestCreateOrderValidation(t *testing.T) {
	srv := testServer(&stubOrderService{order: sampleOrder()}, &stubWalletService{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(`{"currency":"USDT"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateOrderPoolExhausted(t *testing.T) {
	srv := testServer(&stubOrderService{createErr: ports.ErrNoWalletAvailable}, &stubWalletService{})
	defer srv.Close()

	body := `{"currency":"USDT","crypto_amount":"1","uah_amount":"42"}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode,
		"pool exhaustion must read as retryable to the client")
}

func TestGetOrderNotFound(t *testing.T) {
	srv := testServer(&stubOrderService{}, &stubWalletService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarkPaidRequiresOperator(t *testing.T) {
	stub := &stubOrderService{order: sampleOrder()}
	srv := testServer(stub, &stubWalletService{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders/ord-123/paid", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/orders/ord-123/paid?operator_id=42", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.EqualValues(t, 42, stub.paidOperator)
}

func TestTransitionConflict(t *testing.T) {
	stub := &stubOrderService{order: sampleOrder(), transitionErr: ports.ErrInvalidTransition}
	srv := testServer(stub, &stubWalletService{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders/ord-123/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
