package service

import (
	"context"
	"strings"
	"time"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/queue"
	apperrors "go-gin-event-registration/pkg/app_errors"

	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// notifier 在交易提交後發送通知。失敗只記錄 log，不影響已提交的結果
type notifier struct {
	queue queue.NotificationQueue
	log   *zap.Logger
	now   func() time.Time
}

func (n *notifier) publish(ctx context.Context, typ model.NotificationType, eventID, userID string) {
	if n.queue == nil {
		return
	}

	// 請求可能已結束，改用不會被取消的 ctx，另設逾時
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := n.queue.Publish(pubCtx, &model.Notification{
		Type:       typ,
		EventID:    eventID,
		UserID:     userID,
		OccurredAt: n.now().UTC(),
	})
	if err != nil {
		n.log.Warn("publish notification failed",
			zap.String("type", string(typ)),
			zap.String("event_id", eventID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// storageError 業務錯誤原樣回傳，其餘錯誤記錄後轉成不透明的 STORAGE_FAILURE
func storageError(log *zap.Logger, op string, err error) error {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	log.Error("store failure", zap.String("operation", op), zap.Error(err))
	return apperrors.Storage(err)
}

func validateEventID(eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return apperrors.ErrEventIDRequired
	}
	if strings.Contains(eventID, "/") {
		return apperrors.ErrInvalidID
	}
	return nil
}

func validateAttendeeKey(eventID, userID string) error {
	if err := validateEventID(eventID); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return apperrors.ErrUserIDRequired
	}
	if strings.Contains(userID, "/") {
		return apperrors.ErrInvalidID
	}
	return nil
}
