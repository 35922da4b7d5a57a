package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

// WorkerConfig tunes the queue-draining side of notifications.
type WorkerConfig struct {
	OperatorChatIDs []int64
	Concurrency     int
	BackoffBase     time.Duration
	SendTimeout     time.Duration
	RateLimit       int
	RateLimitBurst  int
}

// Worker drains the notification queue, renders operator messages and
// delivers them to every configured recipient independently. One recipient's
// failure never blocks the others; a job is retried by the queue only when
// the delivery mechanism itself fails.
type Worker struct {
	logger  *slog.Logger
	server  *asynq.Server
	direct  DirectSender
	limiter *rate.Limiter

	chatIDs     []int64
	sendTimeout time.Duration
}

// NewWorker builds the queue consumer. Retries follow exponential backoff
// from cfg.BackoffBase; after the attempt budget is exhausted the queue
// archives the job for manual inspection, it is never silently dropped.
func NewWorker(logger *slog.Logger, redisOpt asynq.RedisClientOpt, direct DirectSender, cfg WorkerConfig) *Worker {
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 5 * time.Second
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{QueueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return backoffBase * time.Duration(1<<n)
		},
		Logger: slogAsynqAdapter{logger: logger},
	})

	return &Worker{
		logger:      logger,
		server:      server,
		direct:      direct,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		chatIDs:     cfg.OperatorChatIDs,
		sendTimeout: cfg.SendTimeout,
	}
}

// Start launches the worker pool. Non-blocking; call Stop on shutdown.
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOrderEvent, w.HandleOrderEvent)

	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start notification worker: %w", err)
	}

	w.logger.Info("Notification worker started", "operators", len(w.chatIDs))
	return nil
}

// Stop drains in-flight jobs and shuts the worker pool down.
func (w *Worker) Stop() {
	w.server.Shutdown()
	w.logger.Info("Notification worker stopped")
}

// HandleOrderEvent processes one queued notification. Returning an error
// reschedules the job with backoff; a malformed payload is unprocessable and
// goes straight to the archive.
func (w *Worker) HandleOrderEvent(ctx context.Context, task *asynq.Task) error {
	var job orderEventJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("malformed notification payload: %v: %w", err, asynq.SkipRetry)
	}

	result := w.Deliver(ctx, job.Type, job.Payload)

	w.logger.Info("Notification job processed",
		"order_id", job.OrderID,
		"type", string(job.Type),
		"notified", result.NotifiedCount,
		"errors", result.ErrorCount,
		"total", result.TotalOperators)

	// Every recipient failing means the channel itself is down, not an
	// individual chat. Hand the job back to the queue for retry.
	if result.TotalOperators > 0 && result.NotifiedCount == 0 {
		return fmt.Errorf("notification delivery failed for all %d operators of order %s", result.TotalOperators, job.OrderID)
	}

	return nil
}

// Deliver sends the rendered message to each operator independently and
// aggregates per-recipient outcomes. Outbound calls share a rate limiter to
// respect the chat channel's limits.
func (w *Worker) Deliver(ctx context.Context, typ entities.NotificationType, payload entities.NotificationPayload) entities.DeliveryResult {
	text := renderMessage(typ, payload)
	keyboard := renderKeyboard(typ, payload.OrderID)

	result := entities.DeliveryResult{TotalOperators: len(w.chatIDs)}

	for _, chatID := range w.chatIDs {
		if err := w.limiter.Wait(ctx); err != nil {
			// Context cancelled while throttled: count the rest as errors.
			result.ErrorCount = result.TotalOperators - result.NotifiedCount
			return result
		}

		sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
		err := w.direct.SendMessage(sendCtx, Message{
			ChatID:      chatID,
			Text:        text,
			ParseMode:   "HTML",
			ReplyMarkup: keyboard,
		})
		cancel()

		if err != nil {
			result.ErrorCount++
			w.logger.Error("Failed to notify operator",
				"chat_id", chatID, "order_id", payload.OrderID, "error", err)
			continue
		}

		result.NotifiedCount++
	}

	return result
}

// slogAsynqAdapter bridges asynq's internal logging onto slog.
type slogAsynqAdapter struct {
	logger *slog.Logger
}

func (a slogAsynqAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAsynqAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAsynqAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAsynqAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
func (a slogAsynqAdapter) Fatal(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
