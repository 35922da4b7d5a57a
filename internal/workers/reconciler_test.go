package workers

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

type fakeOrderSource struct {
	orders []entities.Order
	err    error
}

func (f *fakeOrderSource) FindExpiredPending(context.Context, time.Time) ([]entities.Order, error) {
	return f.orders, f.err
}

type recordingHandler struct {
	expired []string
	failFor map[string]error
}

func (h *recordingHandler) ExpireOrder(_ context.Context, orderID string) error {
	h.expired = append(h.expired, orderID)
	if err, ok := h.failFor[orderID]; ok {
		return err
	}
	return nil
}

func TestSweepExpiresOverdueOrders(t *testing.T) {
	source := &fakeOrderSource{orders: []entities.Order{
		{ID: "ord-1", Status: entities.OrderPending},
		{ID: "ord-2", Status: entities.OrderPending},
	}}
	handler := &recordingHandler{}

	r := NewReconciler(slog.Default(), source, handler, time.Minute)
	require.NoError(t, r.Sweep(context.Background()))
	require.Equal(t, []string{"ord-1", "ord-2"}, handler.expired)
}

func TestSweepContinuesPastHandlerFailure(t *testing.T) {
	source := &fakeOrderSource{orders: []entities.Order{
		{ID: "ord-1"},
		{ID: "ord-2"},
		{ID: "ord-3"},
	}}
	handler := &recordingHandler{failFor: map[string]error{"ord-2": errors.New("db timeout")}}

	r := NewReconciler(slog.Default(), source, handler, time.Minute)
	require.NoError(t, r.Sweep(context.Background()),
		"one stuck order must not fail the whole sweep")
	require.Equal(t, []string{"ord-1", "ord-2", "ord-3"}, handler.expired)
}

func TestSweepPropagatesQueryFailure(t *testing.T) {
	source := &fakeOrderSource{err: errors.New("connection refused")}
	handler := &recordingHandler{}

	r := NewReconciler(slog.Default(), source, handler, time.Minute)
	require.Error(t, r.Sweep(context.Background()))
	require.Empty(t, handler.expired)
}

func TestSweepEmptyBatch(t *testing.T) {
	r := NewReconciler(slog.Default(), &fakeOrderSource{}, &recordingHandler{}, time.Minute)
	require.NoError(t, r.Sweep(context.Background()))
}
