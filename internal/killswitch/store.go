package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// FileStore keeps the marker as a JSON file. Writes go through a temp file
// and rename so readers never observe a partial marker.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed marker store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Write(_ context.Context, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create marker directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write marker temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to commit marker file: %w", err)
	}
	return nil
}

func (s *FileStore) Read(_ context.Context) (Marker, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("failed to read marker file: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("failed to parse marker file: %w", err)
	}
	return m, true, nil
}

func (s *FileStore) Clear(_ context.Context) (bool, error) {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove marker file: %w", err)
	}
	return true, nil
}

// RedisStore keeps the marker under a single Redis key. Useful when the CLI
// and the bot run on different hosts and cannot share a filesystem.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed marker store.
func NewRedisStore(addr, key string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

func (s *RedisStore) Write(ctx context.Context, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write marker to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (Marker, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("failed to read marker from redis: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("failed to parse marker from redis: %w", err)
	}
	return m, true, nil
}

func (s *RedisStore) Clear(ctx context.Context) (bool, error) {
	n, err := s.client.Del(ctx, s.key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to clear marker in redis: %w", err)
	}
	return n > 0, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
