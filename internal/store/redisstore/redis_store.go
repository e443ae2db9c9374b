// Package redisstore implements store.Store on Redis. Each document is a
// hash holding its JSON body and version; commits run as a single Lua
// script so version checks and writes are atomic.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go-gin-event-registration/internal/store"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "docstore:"

/*
*

	提交腳本 (使用Lua腳本確保原子性)
	1. 檢查所有讀取過的文件版本是否仍一致（沒有 body 的 tombstone 視為版本 0）
	2. 檢查遞增目標是否存在
	3. 依序套用 put / delete / incr，每次寫入版本 +1
	   delete 只移除 body、保留 version，重新建立時版本不會重複
*/
var commitScript = redis.NewScript(`
	local plan = cjson.decode(ARGV[1])

	-- 1. 版本檢查
	for _, r in ipairs(plan.reads) do
		local v = 0
		if redis.call('HEXISTS', KEYS[r.k], 'body') == 1 then
			v = tonumber(redis.call('HGET', KEYS[r.k], 'version') or '0')
		end
		if v ~= r.v then
			return {0, KEYS[r.k]}
		end
	end

	-- 2. 遞增目標必須存在（依寫入順序模擬）
	local exists = {}
	for _, w in ipairs(plan.writes) do
		local key = KEYS[w.k]
		if exists[key] == nil then
			exists[key] = redis.call('HEXISTS', key, 'body') == 1
		end
		if w.op == 'put' then
			exists[key] = true
		elseif w.op == 'delete' then
			exists[key] = false
		elseif w.op == 'incr' and not exists[key] then
			return {-1, key}
		end
	end

	-- 3. 套用寫入
	for _, w in ipairs(plan.writes) do
		local key = KEYS[w.k]
		if w.op == 'put' then
			redis.call('HSET', key, 'body', w.body)
			redis.call('HINCRBY', key, 'version', 1)
			redis.call('SADD', KEYS[w.c], w.m)
		elseif w.op == 'delete' then
			if redis.call('HDEL', key, 'body') == 1 then
				redis.call('HINCRBY', key, 'version', 1)
			end
			redis.call('SREM', KEYS[w.c], w.m)
		elseif w.op == 'incr' then
			local doc = cjson.decode(redis.call('HGET', key, 'body'))
			doc[w.field] = (tonumber(doc[w.field]) or 0) + (w.delta or 0)
			redis.call('HSET', key, 'body', cjson.encode(doc))
			redis.call('HINCRBY', key, 'version', 1)
		end
	end

	return {1, ''}
`)

type Options struct {
	// Prefix 所有 Redis key 的前綴，預設 "docstore:"
	Prefix string
}

type Store struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, opts *Options) *Store {
	prefix := defaultPrefix
	if opts != nil && opts.Prefix != "" {
		prefix = opts.Prefix
	}
	return &Store{client: client, prefix: prefix}
}

// 文件 key
func (s *Store) docKey(key string) string {
	return s.prefix + "doc:" + key
}

// collection 索引 key
func (s *Store) indexKey(collection string) string {
	return s.prefix + "idx:" + collection
}

func (s *Store) Get(ctx context.Context, key string) (*store.Document, error) {
	result, err := s.client.HGetAll(ctx, s.docKey(key)).Result()
	if err != nil {
		return nil, err
	}
	return decodeHash(key, result)
}

func (s *Store) List(ctx context.Context, collection string) ([]*store.Document, error) {
	members, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]*store.Document, 0, len(members))
	if len(members) == 0 {
		return docs, nil
	}
	sort.Strings(members)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(member))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for i, member := range members {
		doc, err := decodeHash(member, cmds[i].Val())
		if errors.Is(err, store.ErrNotFound) {
			// deleted between SMEMBERS and HGETALL
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type planRead struct {
	K int   `json:"k"`
	V int64 `json:"v"`
}

type planWrite struct {
	Op    string `json:"op"`
	K     int    `json:"k"`
	C     int    `json:"c,omitempty"`
	M     string `json:"m,omitempty"`
	Body  string `json:"body,omitempty"`
	Field string `json:"field,omitempty"`
	Delta int64  `json:"delta,omitempty"`
}

type commitPlan struct {
	Reads  []planRead  `json:"reads"`
	Writes []planWrite `json:"writes"`
}

func (s *Store) Commit(ctx context.Context, batch store.Batch) error {
	if err := store.ValidateBatch(batch); err != nil {
		return err
	}

	keys := make([]string, 0)
	positions := make(map[string]int)
	// Lua 的 KEYS 從 1 開始
	keyIndex := func(redisKey string) int {
		if i, ok := positions[redisKey]; ok {
			return i
		}
		keys = append(keys, redisKey)
		positions[redisKey] = len(keys)
		return len(keys)
	}

	plan := commitPlan{
		Reads:  make([]planRead, 0, len(batch.Preconditions)),
		Writes: make([]planWrite, 0, len(batch.Mutations)),
	}
	for _, p := range batch.Preconditions {
		plan.Reads = append(plan.Reads, planRead{K: keyIndex(s.docKey(p.Key)), V: p.Version})
	}
	for _, m := range batch.Mutations {
		w := planWrite{Op: m.Op.String(), K: keyIndex(s.docKey(m.Key))}
		switch m.Op {
		case store.OpPut:
			w.Body = string(m.Body)
			w.C = keyIndex(s.indexKey(store.CollectionOf(m.Key)))
			w.M = m.Key
		case store.OpDelete:
			w.C = keyIndex(s.indexKey(store.CollectionOf(m.Key)))
			w.M = m.Key
		case store.OpIncrement:
			w.Field = m.Field
			w.Delta = m.Delta
		}
		plan.Writes = append(plan.Writes, w)
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal commit plan: %w", err)
	}

	result, err := commitScript.Run(ctx, s.client, keys, string(planJSON)).Slice()
	if err != nil {
		return fmt.Errorf("commit script: %w", err)
	}
	if len(result) == 0 {
		return errors.New("unexpected commit result")
	}

	code, ok := result[0].(int64)
	if !ok {
		return errors.New("unexpected commit result")
	}
	switch code {
	case 1:
		return nil
	case 0:
		return store.ErrVersionConflict
	case -1:
		return store.ErrNotFound
	default:
		return fmt.Errorf("unexpected commit result code %d", code)
	}
}

func decodeHash(key string, fields map[string]string) (*store.Document, error) {
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	body, ok := fields["body"]
	if !ok {
		return nil, store.ErrNotFound
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version for %s: %v", key, err)
	}
	return &store.Document{Key: key, Version: version, Body: []byte(body)}, nil
}
