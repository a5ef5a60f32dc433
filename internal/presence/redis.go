package presence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"eventnet/internal/microservices/tcp"

	"github.com/redis/go-redis/v9"
)

const (
	clientSetKey    = "eventnet:clients"
	clientKeyPrefix = "eventnet:client:"

	hookTimeout = 3 * time.Second
)

func clientKey(id string) string {
	return clientKeyPrefix + id
}

// RedisStore mirrors the connected TCP clients into Redis: one hash per
// client plus a set of ids. A nil store is a valid no-op.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at url (redis://host:port/db)
// and verifies the connection with a ping
func NewRedisStore(ctx context.Context, url, password string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(rdb, ttl, logger), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: rdb,
		ttl:    ttl,
		logger: logger.With("component", "presence"),
	}
}

// Track records a connected client
func (s *RedisStore) Track(ctx context.Context, c tcp.Client) error {
	if s == nil || s.client == nil {
		return nil
	}
	key := clientKey(c.ID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"ip":           c.IP,
			"port":         c.Port,
			"connected_at": c.ConnectedAt.Format(time.RFC3339Nano),
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.SAdd(ctx, clientSetKey, c.ID)
		return nil
	})
	return err
}

// Untrack removes a client's hash and set membership
func (s *RedisStore) Untrack(ctx context.Context, clientID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, clientKey(clientID))
		pipe.SRem(ctx, clientSetKey, clientID)
		return nil
	})
	return err
}

// List returns the tracked clients ordered by connection time. Ids whose
// hash has expired are pruned from the set.
func (s *RedisStore) List(ctx context.Context) ([]tcp.Client, error) {
	if s == nil || s.client == nil {
		return []tcp.Client{}, nil
	}

	ids, err := s.client.SMembers(ctx, clientSetKey).Result()
	if err != nil {
		return nil, err
	}

	clients := make([]tcp.Client, 0, len(ids))
	var stale []any
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, clientKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			stale = append(stale, id)
			continue
		}

		c := tcp.Client{ID: id, IP: fields["ip"]}
		if port, err := strconv.Atoi(fields["port"]); err == nil {
			c.Port = port
		}
		if ts, err := time.Parse(time.RFC3339Nano, fields["connected_at"]); err == nil {
			c.ConnectedAt = ts
		}
		clients = append(clients, c)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, clientSetKey, stale...).Err(); err != nil {
			s.logger.Warn("failed_to_prune_presence", "count", len(stale), "error", err.Error())
		}
	}

	slices.SortFunc(clients, func(a, b tcp.Client) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return clients, nil
}

// Clear removes every tracked client, used at startup to drop what a
// previous process left behind
func (s *RedisStore) Clear(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	ids, err := s.client.SMembers(ctx, clientSetKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, clientKey(id))
	}
	keys = append(keys, clientSetKey)
	return s.client.Del(ctx, keys...).Err()
}

// Hooks returns connect and disconnect callbacks suitable for the TCP
// manager. Redis failures are logged, never propagated into the network
// layer.
func (s *RedisStore) Hooks() (onConnect, onDisconnect func(tcp.Client)) {
	onConnect = func(c tcp.Client) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := s.Track(ctx, c); err != nil {
			s.logger.Error("failed_to_track_client", "client_id", c.ID, "error", err.Error())
		}
	}
	onDisconnect = func(c tcp.Client) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := s.Untrack(ctx, c.ID); err != nil {
			s.logger.Error("failed_to_untrack_client", "client_id", c.ID, "error", err.Error())
		}
	}
	return onConnect, onDisconnect
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
