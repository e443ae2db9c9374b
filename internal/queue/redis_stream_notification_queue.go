package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StreamKey          = "registrations:stream"
	ConsumerGroupName  = "availability-workers"
	ConsumerNamePrefix = "worker"

	payloadField = "notification"
)

// RedisStreamQueueConfig 可注入的逾時與重試設定；nil 或零值時使用預設。
type RedisStreamQueueConfig struct {
	ClaimMinIdleTime   time.Duration // PEL 中超過此時間才被 XAUTOCLAIM 領取
	MaxRetryCount      int           // 超過此次數視為毒藥消息並丟棄
	ReadGroupBlockTime time.Duration // XReadGroup 阻塞時間
	BatchSize          int64         // 每次 XREADGROUP / XAUTOCLAIM 讀取的筆數，同一批內依活動合併
	MaxLen             int64         // stream 近似長度上限，0 表示不修剪
}

func defaultRedisStreamConfig() RedisStreamQueueConfig {
	return RedisStreamQueueConfig{
		ClaimMinIdleTime:   5 * time.Second,
		MaxRetryCount:      5,
		ReadGroupBlockTime: 2 * time.Second,
		BatchSize:          50,
		MaxLen:             100000,
	}
}

func (c *RedisStreamQueueConfig) merge(override *RedisStreamQueueConfig) {
	if override == nil {
		return
	}
	if override.ClaimMinIdleTime > 0 {
		c.ClaimMinIdleTime = override.ClaimMinIdleTime
	}
	if override.MaxRetryCount > 0 {
		c.MaxRetryCount = override.MaxRetryCount
	}
	if override.ReadGroupBlockTime > 0 {
		c.ReadGroupBlockTime = override.ReadGroupBlockTime
	}
	if override.BatchSize > 0 {
		c.BatchSize = override.BatchSize
	}
	if override.MaxLen > 0 {
		c.MaxLen = override.MaxLen
	}
}

// RedisStreamNotificationQueueImpl 通知經 Redis Stream 分派給 consumer group。
// 同一批讀到的通知會依 event_id 合併成一個 Delivery：availability 只需要
// 每個活動刷新一次，Ack/Nack 則作用在合併進來的所有消息上。
type RedisStreamNotificationQueueImpl struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	cfg      RedisStreamQueueConfig
	log      *zap.Logger
}

// NewRedisStreamNotificationQueue 建立 Redis Stream 版 NotificationQueue。config 可為 nil，則使用預設值。
func NewRedisStreamNotificationQueue(ctx context.Context, client *redis.Client, consumerID string, config *RedisStreamQueueConfig) (NotificationQueue, error) {
	if consumerID == "" {
		consumerID = uuid.New().String()
	}
	cfg := defaultRedisStreamConfig()
	cfg.merge(config)

	q := &RedisStreamNotificationQueueImpl{
		client:   client,
		stream:   StreamKey,
		group:    ConsumerGroupName,
		consumer: fmt.Sprintf("%s:%s", ConsumerNamePrefix, consumerID),
		cfg:      cfg,
		log:      logger.WithComponent("mq"),
	}

	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("ensure consumer group: %w", err)
	}
	return q, nil
}

func (q *RedisStreamNotificationQueueImpl) Publish(ctx context.Context, n *model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: q.stream,
		ID:     "*",
		Values: map[string]interface{}{payloadField: string(payload)},
	}
	if q.cfg.MaxLen > 0 {
		args.MaxLen = q.cfg.MaxLen
		args.Approx = true
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

func (q *RedisStreamNotificationQueueImpl) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		claimDone := make(chan struct{})
		go func() {
			defer close(claimDone)
			q.claimLoop(ctx, out)
		}()
		q.readLoop(ctx, out)
		<-claimDone
	}()
	return out, nil
}

// readLoop 只讀新消息(">")。已投遞過的消息留在 PEL，由 claimLoop 逾時後領回重試
func (q *RedisStreamNotificationQueueImpl) readLoop(ctx context.Context, out chan<- Delivery) {
	for ctx.Err() == nil {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.cfg.BatchSize,
			Block:    q.cfg.ReadGroupBlockTime,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("XReadGroup failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range streams {
			if s.Stream != q.stream {
				continue
			}
			if !q.deliver(ctx, out, s.Messages, nil) {
				return
			}
		}
	}
}

// claimLoop 定時用 XAUTOCLAIM 領取超時未 ack 的消息，超過重試次數者丟棄
func (q *RedisStreamNotificationQueueImpl) claimLoop(ctx context.Context, out chan<- Delivery) {
	ticker := time.NewTicker(q.cfg.ClaimMinIdleTime)
	defer ticker.Stop()
	start := "0-0"

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		claimed, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.cfg.ClaimMinIdleTime,
			Count:    q.cfg.BatchSize,
			Start:    start,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("XAutoClaim failed", zap.Error(err))
			continue
		}
		start = next
		if start == "" {
			start = "0-0"
		}
		if len(claimed) == 0 {
			continue
		}

		retries, err := q.retryCounts(ctx, claimed)
		if err != nil {
			q.log.Warn("read retry counts failed", zap.Error(err))
		}
		if !q.deliver(ctx, out, claimed, retries) {
			return
		}
	}
}

// retryCounts 以一次 XPENDING 範圍查詢取得每筆消息的投遞次數
func (q *RedisStreamNotificationQueueImpl) retryCounts(ctx context.Context, msgs []redis.XMessage) (map[string]int64, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  msgs[0].ID,
		End:    msgs[len(msgs)-1].ID,
		Count:  int64(len(msgs)),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// eventGroup 同一活動在這一批內的通知
type eventGroup struct {
	latest *model.Notification
	ids    []string
}

// deliver 解析、過濾並依活動合併後送出；ctx 結束時回傳 false
func (q *RedisStreamNotificationQueueImpl) deliver(ctx context.Context, out chan<- Delivery, msgs []redis.XMessage, retries map[string]int64) bool {
	var drop []string
	var order []string
	groups := make(map[string]*eventGroup)

	for _, msg := range msgs {
		if n := retries[msg.ID]; int(n) >= q.cfg.MaxRetryCount {
			q.log.Warn("discard poison message", zap.String("message_id", msg.ID), zap.Int64("retries", n), zap.Int("max_retries", q.cfg.MaxRetryCount))
			drop = append(drop, msg.ID)
			continue
		}

		n, err := decodeNotification(msg)
		if err != nil {
			q.log.Warn("discard malformed message", zap.String("message_id", msg.ID), zap.Error(err))
			drop = append(drop, msg.ID)
			continue
		}

		g, ok := groups[n.EventID]
		if !ok {
			g = &eventGroup{}
			groups[n.EventID] = g
			order = append(order, n.EventID)
		}
		if g.latest == nil || !n.OccurredAt.Before(g.latest.OccurredAt) {
			g.latest = n
		}
		g.ids = append(g.ids, msg.ID)
	}

	if len(drop) > 0 {
		q.ack(ctx, drop...)
	}

	for _, eventID := range order {
		select {
		case out <- q.newDelivery(ctx, groups[eventID]):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func decodeNotification(msg redis.XMessage) (*model.Notification, error) {
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, fmt.Errorf("missing %s field", payloadField)
	}
	var n model.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &n, nil
}

func (q *RedisStreamNotificationQueueImpl) newDelivery(ctx context.Context, g *eventGroup) Delivery {
	ids := g.ids
	return Delivery{
		Data:      g.latest,
		Coalesced: len(ids),
		Ack:       func() { q.ack(ctx, ids...) },
		Nack: func(requeue bool) {
			if requeue {
				// 留在 PEL，ClaimMinIdleTime 後由 XAUTOCLAIM 領回，形成延遲重試
				q.log.Info("notification nack(requeue), will retry",
					zap.String("event_id", g.latest.EventID),
					zap.Int("messages", len(ids)),
					zap.Duration("claim_min_idle", q.cfg.ClaimMinIdleTime))
				return
			}
			q.ack(ctx, ids...)
		},
	}
}

func (q *RedisStreamNotificationQueueImpl) ack(ctx context.Context, ids ...string) {
	if err := q.client.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
		q.log.Error("XAck failed", zap.Strings("message_ids", ids), zap.Error(err))
	}
}
