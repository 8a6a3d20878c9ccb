package audiocache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/platform/errors"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData = "data"
	fieldMIME = "mime"
	fieldMeta = "meta"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed audio store. Entries are hashes holding the
// raw payload, its MIME type and the synthesis metadata.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "narrator:audio:"
	}
	return &redisStore{
		client: client,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) Get(ctx context.Context, key string) (*audio.Buffer, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, false, errors.Wrap(errors.KindCache, "audiocache.redis.get", "failed to read cached audio", err)
	}
	data, ok := fields[fieldData]
	if !ok {
		return nil, false, nil
	}
	return audio.NewBuffer([]byte(data), fields[fieldMIME]), true, nil
}

func (s *redisStore) Put(ctx context.Context, key string, buf *audio.Buffer, meta Meta) error {
	if buf == nil {
		return nil
	}
	metaJSON, err := sonic.Marshal(meta)
	if err != nil {
		return err
	}

	k := s.key(key)
	// 数据、MIME、元信息与 TTL 在同一个 MULTI 中写入；已存在则保持首次写入
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil || n > 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldData, buf.Data, fieldMIME, buf.MIMEType, fieldMeta, metaJSON)
			if s.ttl > 0 {
				pipe.Expire(ctx, k, s.ttl)
			}
			return nil
		})
		return err
	}, k)
	if stderrors.Is(err, redis.TxFailedErr) {
		// 并发写入抢先完成
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.KindCache, "audiocache.redis.put", "failed to store audio", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *redisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	pattern := s.prefix + "*"
	for {
		res, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(res)
		if next == 0 {
			break
		}
		cursor = next
	}
	return count, nil
}

// Meta 读取条目的合成参数
func (s *redisStore) Meta(ctx context.Context, key string) (Meta, error) {
	var meta Meta
	raw, err := s.client.HGet(ctx, s.key(key), fieldMeta).Bytes()
	if err != nil {
		if err == redis.Nil {
			return meta, errors.New(errors.KindNotFound, "audiocache.redis.meta", "entry not found")
		}
		return meta, err
	}
	err = sonic.Unmarshal(raw, &meta)
	return meta, err
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	n, err := s.Len(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":    DriverRedis,
		"entries": n,
		"ttl":     int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
