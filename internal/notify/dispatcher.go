package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

const (
	// TypeOrderEvent is the asynq task type for operator notifications.
	TypeOrderEvent = "notification:order_event"

	// QueueName namespaces our jobs away from unrelated uses of the same
	// Redis instance.
	QueueName = "settlement:notifications"

	// completedRetention keeps succeeded jobs around for inspection before
	// the queue garbage-collects them. Dead jobs are retained indefinitely
	// by the queue's archive.
	completedRetention = 24 * time.Hour

	fallbackSendTimeout = 10 * time.Second
)

// orderEventJob is the serialized queue payload.
type orderEventJob struct {
	OrderID string                       `json:"order_id"`
	Type    entities.NotificationType    `json:"type"`
	Payload entities.NotificationPayload `json:"payload"`
}

// Enqueuer is the producer half of the queue, satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DirectSender is the synchronous fallback channel, satisfied by
// *DeliveryClient.
type DirectSender interface {
	SendMessage(ctx context.Context, msg Message) error
}

// Dispatcher pushes order-event notifications into the durable queue. When
// the push fails it falls back to one best-effort direct send, so the order
// processing path never fails, and never blocks, because an operator could
// not be told.
type Dispatcher struct {
	logger *slog.Logger
	client Enqueuer
	direct DirectSender

	fallbackChatID int64
	maxRetries     int
	sendTimeout    time.Duration
}

func NewDispatcher(logger *slog.Logger, client Enqueuer, direct DirectSender, fallbackChatID int64, maxRetries int, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = fallbackSendTimeout
	}
	return &Dispatcher{
		logger:         logger,
		client:         client,
		direct:         direct,
		fallbackChatID: fallbackChatID,
		maxRetries:     maxRetries,
		sendTimeout:    sendTimeout,
	}
}

// Enqueue accepts a notification request. It returns immediately and never
// surfaces an error: queue trouble degrades to the direct-send fallback,
// and a fallback failure is only logged.
func (d *Dispatcher) Enqueue(ctx context.Context, typ entities.NotificationType, payload entities.NotificationPayload) {
	job := orderEventJob{OrderID: payload.OrderID, Type: typ, Payload: payload}

	body, err := json.Marshal(job)
	if err != nil {
		d.logger.Error("Failed to marshal notification job", "order_id", payload.OrderID, "error", err)
		return
	}

	if d.client != nil {
		task := asynq.NewTask(TypeOrderEvent, body)
		info, err := d.client.EnqueueContext(ctx, task,
			asynq.Queue(QueueName),
			asynq.MaxRetry(d.maxRetries),
			asynq.Timeout(d.sendTimeout),
			asynq.Retention(completedRetention),
		)
		if err == nil {
			d.logger.Debug("Notification enqueued",
				"order_id", payload.OrderID, "type", string(typ), "task_id", info.ID)
			return
		}

		d.logger.Error("Failed to enqueue notification, falling back to direct send",
			"order_id", payload.OrderID, "type", string(typ), "error", err)
	}

	d.sendDirect(typ, payload)
}

// sendDirect fires the fallback delivery without awaiting it. Failures are
// logged from within the spawned goroutine, nothing is reported back.
func (d *Dispatcher) sendDirect(typ entities.NotificationType, payload entities.NotificationPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		defer cancel()

		msg := Message{
			ChatID:      d.fallbackChatID,
			Text:        renderMessage(typ, payload),
			ParseMode:   "HTML",
			ReplyMarkup: renderKeyboard(typ, payload.OrderID),
		}

		if err := d.direct.SendMessage(ctx, msg); err != nil {
			d.logger.Error("Direct notification send failed",
				"order_id", payload.OrderID, "type", string(typ), "error", err)
			return
		}

		d.logger.Info("Notification delivered via direct fallback",
			"order_id", payload.OrderID, "type", string(typ))
	}()
}
