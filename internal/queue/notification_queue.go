package queue

import (
	"context"

	"go-gin-event-registration/internal/model"
)

type Delivery struct {
	Data *model.Notification
	// Coalesced 合併進這次投遞的消息數（同一活動），至少為 1
	Coalesced int
	Ack       func()
	Nack      func(requeue bool)
}

type NotificationQueue interface {
	// 發送通知到隊列
	Publish(ctx context.Context, n *model.Notification) error
	// 訂閱通知隊列
	Subscribe(ctx context.Context) (<-chan Delivery, error)
}

type NotificationQueueImpl struct {
	// 使用 Go channel 來模擬 MQ 隊列
	ch chan *model.Notification
}

func NewNotificationQueue(bufferSize int) NotificationQueue {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &NotificationQueueImpl{
		ch: make(chan *model.Notification, bufferSize),
	}
}

// Publish 隊列滿時會等待，直到 ctx 結束
func (q *NotificationQueueImpl) Publish(ctx context.Context, n *model.Notification) error {
	select {
	case q.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *NotificationQueueImpl) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-q.ch:
				if !ok {
					return
				}

				d := Delivery{
					Data:      n,
					Coalesced: 1,
					Ack:       func() { /* 記憶體版不用做特別動作 */ },
					Nack: func(requeue bool) {
						if !requeue {
							return
						}
						// 簡單模擬重回隊列；滿了就丟棄，避免阻塞消費者
						select {
						case q.ch <- n:
						default:
						}
					},
				}

				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
