package worker

import (
	"context"
	"errors"

	"go-gin-event-registration/internal/queue"
	"go-gin-event-registration/internal/service"
	apperrors "go-gin-event-registration/pkg/app_errors"
	"go-gin-event-registration/pkg/logger"

	"go.uber.org/zap"
)

type AvailabilityWorker interface {
	// 訂閱通知隊列，回傳的 channel 在 worker 結束時關閉
	Start(ctx context.Context) (<-chan struct{}, error)
}

type AvailabilityWorkerImpl struct {
	service service.EventService
	queue   queue.NotificationQueue
	log     *zap.Logger
}

func NewAvailabilityWorker(service service.EventService, queue queue.NotificationQueue) AvailabilityWorker {
	return &AvailabilityWorkerImpl{
		service: service,
		queue:   queue,
		log:     logger.WithComponent("worker"),
	}
}

func (w *AvailabilityWorkerImpl) Start(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := w.queue.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			w.handle(ctx, msg)
		}
	}()
	return done, nil
}

// handle 依通知重新讀取活動並刷新剩餘名額快取；通知本身不帶數量，亂序或重複都不影響結果
func (w *AvailabilityWorkerImpl) handle(ctx context.Context, msg queue.Delivery) {
	n := msg.Data
	_, err := w.service.RefreshAvailability(ctx, n.EventID)
	switch {
	case err == nil:
		msg.Ack()
	case errors.Is(err, apperrors.ErrEventNotFound), apperrors.KindOf(err) == apperrors.KindValidation:
		// 重試也不會成功，直接丟棄
		w.log.Warn("drop notification", zap.String("type", string(n.Type)), zap.String("event_id", n.EventID), zap.Int("coalesced", msg.Coalesced), zap.Error(err))
		msg.Nack(false)
	default:
		// 如果 store 暫時連不上，Worker 決定重試
		w.log.Error("refresh availability failed", zap.String("event_id", n.EventID), zap.Int("coalesced", msg.Coalesced), zap.Error(err))
		msg.Nack(true)
	}
}
