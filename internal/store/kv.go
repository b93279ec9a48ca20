package store

import (
	"context"
	"strconv"
)

// Keys persisted by linkstash.
const (
	KeyAccessToken  = "accessToken"
	KeyRepoName     = "repoName"
	KeyIsFirstRun   = "isFirstRun"
	KeyLastSyncTime = "lastSyncTime"
)

// KeyValueStore is durable local storage of named string values.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// GetMany returns only the keys that are present.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Clear removes every key.
	Clear(ctx context.Context) error
	Close() error
}

// GetBool reads a bool value, returning defaultVal when absent or unreadable.
func GetBool(ctx context.Context, kv KeyValueStore, key string, defaultVal bool) bool {
	value, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return defaultVal
	}
	return value == "true" || value == "1" || value == "yes"
}

func SetBool(ctx context.Context, kv KeyValueStore, key string, value bool) error {
	return kv.Set(ctx, key, strconv.FormatBool(value))
}

// GetInt64 reads an integer value, returning defaultVal when absent or unreadable.
func GetInt64(ctx context.Context, kv KeyValueStore, key string, defaultVal int64) int64 {
	value, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return defaultVal
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func SetInt64(ctx context.Context, kv KeyValueStore, key string, value int64) error {
	return kv.Set(ctx, key, strconv.FormatInt(value, 10))
}
