package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go-gin-event-registration/internal/model"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("availability cache miss")

type SeatAvailabilityCache interface {
	// 獲取：讀取活動剩餘名額快照，不存在時回傳 ErrCacheMiss
	Get(ctx context.Context, eventID string) (*model.SeatAvailability, error)
	// 寫入：只接受比現有快照更新的資料 (使用Lua腳本確保原子性)
	Set(ctx context.Context, availability *model.SeatAvailability) error
	// 失效：刪除快照
	Invalidate(ctx context.Context, eventID string) error
}

type RedisSeatAvailabilityCacheImpl struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSeatAvailabilityCache(client *redis.Client, ttl time.Duration) SeatAvailabilityCache {
	return &RedisSeatAvailabilityCacheImpl{
		client: client,
		ttl:    ttl,
	}
}

// 快照 key
func (c *RedisSeatAvailabilityCacheImpl) getKey(eventID string) string {
	return fmt.Sprintf("event:%s:availability", eventID)
}

/*
*

	寫入快照 (使用Lua腳本確保原子性)
	1. 比較活動文件版本，讀得較早的快照不覆蓋較新的（多個 worker 或請求同時 refresh 時）
	2. 寫入欄位並設定 TTL
*/
var setScript = redis.NewScript(`
	local key = KEYS[1]
	local version = tonumber(ARGV[1])
	local ttl_ms = tonumber(ARGV[7])

	local current = redis.call('HGET', key, 'version')
	if current and tonumber(current) > version then
		return 0
	end

	redis.call('HSET', key,
		'version', ARGV[1],
		'updated_at', ARGV[2],
		'capacity', ARGV[3],
		'attendees_count', ARGV[4],
		'remaining', ARGV[5],
		'status', ARGV[6])
	if ttl_ms > 0 then
		redis.call('PEXPIRE', key, ttl_ms)
	end
	return 1
`)

func (c *RedisSeatAvailabilityCacheImpl) Get(ctx context.Context, eventID string) (*model.SeatAvailability, error) {
	result, err := c.client.HGetAll(ctx, c.getKey(eventID)).Result()
	if err != nil {
		return nil, err
	}

	// 檢查 key 是否存在
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	capacity, err := strconv.Atoi(result["capacity"])
	if err != nil {
		return nil, fmt.Errorf("invalid capacity: %v", err)
	}

	attendees, err := strconv.Atoi(result["attendees_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid attendees_count: %v", err)
	}

	remaining, err := strconv.Atoi(result["remaining"])
	if err != nil {
		return nil, fmt.Errorf("invalid remaining: %v", err)
	}

	version, err := strconv.ParseInt(result["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version: %v", err)
	}

	updatedAt, err := strconv.ParseInt(result["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %v", err)
	}

	return &model.SeatAvailability{
		EventID:        eventID,
		Capacity:       capacity,
		AttendeesCount: attendees,
		Remaining:      remaining,
		Status:         model.EventStatus(result["status"]),
		Version:        version,
		UpdatedAt:      time.UnixMicro(updatedAt).UTC(),
	}, nil
}

func (c *RedisSeatAvailabilityCacheImpl) Set(ctx context.Context, a *model.SeatAvailability) error {
	return setScript.Run(ctx, c.client, []string{c.getKey(a.EventID)},
		a.Version,
		a.UpdatedAt.UnixMicro(),
		a.Capacity,
		a.AttendeesCount,
		a.Remaining,
		string(a.Status),
		c.ttl.Milliseconds(),
	).Err()
}

func (c *RedisSeatAvailabilityCacheImpl) Invalidate(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, c.getKey(eventID)).Err()
}
