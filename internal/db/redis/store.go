// Package redis is a rueidis-backed key-value store for short-lived result caching.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/imgdex/internal/db"
)

const (
	scanCount          = 200
	defaultDialTimeout = 5 * time.Second
)

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// Namespace is prepended to every key, so one Redis can serve several catalogs.
	Namespace   string
	DialTimeout time.Duration
}

// Store is a Redis key-value store. Values are opaque bytes with a TTL.
type Store struct {
	client rueidis.Client
	ns     string
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
		Dialer:      net.Dialer{Timeout: dialTimeout},
		// Results are invalidated by prefix; client-side tracking would only duplicate them.
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return newWithClient(client, cfg.Namespace), nil
}

func newWithClient(c rueidis.Client, namespace string) *Store {
	return &Store{client: c, ns: namespace}
}

func (s *Store) key(k string) string { return s.ns + k }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	return db.WaitForReady(ctx, s, timeout)
}

// Get retrieves a value. A missing or expired key is db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(s.key(key)).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// SetWithTTL stores a value that expires after ttl.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return &db.Error{Op: db.OpSet, Err: fmt.Errorf("ttl must be positive, got %v", ttl)}
	}
	cmd := s.client.B().Set().Key(s.key(key)).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// DelPrefix unlinks every key starting with prefix and returns how many were matched.
// Keys written while the scan runs may survive.
func (s *Store) DelPrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(s.key(prefix) + "*").Count(scanCount).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return deleted, &db.Error{Op: db.OpScanKeys, Err: err}
		}
		if len(entry.Elements) > 0 {
			unlink := s.client.B().Unlink().Key(entry.Elements...).Build()
			if err := s.client.Do(ctx, unlink).Error(); err != nil {
				return deleted, &db.Error{Op: db.OpDel, Err: err}
			}
			deleted += len(entry.Elements)
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return deleted, nil
		}
	}
}
