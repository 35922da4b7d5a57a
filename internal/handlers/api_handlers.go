package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.openly.dev/pointy"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
	"github.com/swapset/crypto-exchange/settlement/internal/usecases"
)

var _ OrderService = (*usecases.OrderService)(nil)
var _ WalletService = (*usecases.WalletPoolService)(nil)

type HTTPHandler struct {
	logger        *slog.Logger
	orderService  OrderService
	walletService WalletService
}

func NewHTTPHandler(logger *slog.Logger, orderService OrderService, walletService WalletService) *HTTPHandler {
	return &HTTPHandler{
		logger:        logger,
		orderService:  orderService,
		walletService: walletService,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Orders
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{orderId}/paid", h.MarkOrderPaid).Methods("POST")
	router.HandleFunc("/orders/{orderId}/complete", h.CompleteOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/cancel", h.CancelOrder).Methods("POST")

	// Wallets
	router.HandleFunc("/wallets", h.ListWallets).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")
}

type createOrderRequest struct {
	Currency      string `json:"currency"`
	TokenStandard string `json:"token_standard,omitempty"`
	CryptoAmount  string `json:"crypto_amount"`
	UAHAmount     string `json:"uah_amount"`
	Rate          string `json:"rate,omitempty"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Currency == "" || req.CryptoAmount == "" || req.UAHAmount == "" {
		http.Error(w, "Missing required fields: currency, crypto_amount, uah_amount", http.StatusBadRequest)
		return
	}

	var tokenStandard *string
	if req.TokenStandard != "" {
		tokenStandard = pointy.String(req.TokenStandard)
	}

	order, err := h.orderService.CreateOrder(r.Context(), ports.CreateOrderRequest{
		Currency:      req.Currency,
		TokenStandard: tokenStandard,
		CryptoAmount:  req.CryptoAmount,
		UAHAmount:     req.UAHAmount,
		Rate:          req.Rate,
	})
	if errors.Is(err, ports.ErrNoWalletAvailable) {
		http.Error(w, "No deposit wallet available, try again later", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error("Failed to create order", "error", err)
		http.Error(w, "Failed to create order", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if errors.Is(err, ports.ErrOrderNotFound) {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get order", "order_id", orderID, "error", err)
		http.Error(w, "Failed to get order", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

func (h *HTTPHandler) MarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	operatorParam := r.URL.Query().Get("operator_id")
	if operatorParam == "" {
		http.Error(w, "Missing required parameter: operator_id", http.StatusBadRequest)
		return
	}
	operatorID, err := strconv.ParseInt(operatorParam, 10, 64)
	if err != nil {
		http.Error(w, "Invalid operator_id", http.StatusBadRequest)
		return
	}

	h.transition(w, r, orderID, func() error {
		return h.orderService.MarkPaid(r.Context(), orderID, operatorID)
	})
}

func (h *HTTPHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	h.transition(w, r, orderID, func() error {
		return h.orderService.CompleteOrder(r.Context(), orderID)
	})
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	h.transition(w, r, orderID, func() error {
		return h.orderService.CancelOrder(r.Context(), orderID)
	})
}

func (h *HTTPHandler) transition(w http.ResponseWriter, _ *http.Request, orderID string, fn func() error) {
	err := fn()
	switch {
	case errors.Is(err, ports.ErrOrderNotFound):
		http.Error(w, "Order not found", http.StatusNotFound)
	case errors.Is(err, ports.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.logger.Error("Order transition failed", "order_id", orderID, "error", err)
		http.Error(w, "Order transition failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *HTTPHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		http.Error(w, "Missing required parameter: currency", http.StatusBadRequest)
		return
	}

	wallets, err := h.walletService.ListWallets(r.Context(), currency)
	if err != nil {
		h.logger.Error("Failed to list wallets", "currency", currency, "error", err)
		http.Error(w, "Failed to list wallets", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallets)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
