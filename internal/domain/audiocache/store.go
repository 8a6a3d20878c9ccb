package audiocache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"narrator-server-go/internal/domain/audio"
)

// Store is the keyed audio store shared by every reading session.
//
// Put keeps the first buffer written for a key; later writes for the same key
// are ignored so cached audio never changes under a reader.
type Store interface {
	Get(ctx context.Context, key string) (*audio.Buffer, bool, error)
	Put(ctx context.Context, key string, buf *audio.Buffer, meta Meta) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Meta 描述缓存条目的合成参数，仅用于诊断
type Meta struct {
	Model string  `json:"model"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Chars int     `json:"chars"`
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver     string
	MaxEntries int
	TTL        time.Duration
	Redis      *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

const keyVersion = "v1"

// Key derives the cache key for one synthesis request. Each field is length
// prefixed before hashing, so no two distinct tuples share an encoding.
func Key(text, model, voice string, speed float64) string {
	h := sha256.New()
	writeField := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	writeField(keyVersion)
	writeField(text)
	writeField(model)
	writeField(voice)
	writeField(strconv.FormatFloat(speed, 'f', -1, 64))
	return hex.EncodeToString(h.Sum(nil))
}
