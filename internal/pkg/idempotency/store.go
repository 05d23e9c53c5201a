package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/e-fakture/sefsync/internal/pkg/boundedcache"
)

const (
	// DefaultTTL is how long a cached outcome satisfies replays.
	DefaultTTL = time.Hour
	// ReservationTTL bounds how long a first request may hold the key while
	// its handler runs. Concurrent duplicates wait at most this long.
	ReservationTTL = 30 * time.Second
	// fallbackCapacity bounds the in-process store used when the shared
	// cache is unreachable.
	fallbackCapacity = 4096

	recordPrefix      = "idem:v:"
	reservationPrefix = "idem:lock:"
)

// tokenPattern is the non-UUID form of an acceptable Idempotency-Key.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{16,}$`)

// ValidToken reports whether raw is an acceptable Idempotency-Key: a UUID or
// at least 16 alphanumeric characters.
func ValidToken(raw string) bool {
	if raw == "" {
		return false
	}
	if _, err := uuid.Parse(raw); err == nil {
		return true
	}
	return tokenPattern.MatchString(raw)
}

// Key derives the cache key from the actor, the request identity and the
// client-supplied token. Hashing keeps key length fixed and avoids leaking
// tokens into the shared cache keyspace.
func Key(actor, method, path, token string) string {
	sum := sha256.Sum256([]byte(actor + "|" + method + "|" + path + "|" + token))
	return hex.EncodeToString(sum[:])
}

// Record is the cached outcome of a successfully executed mutating request.
type Record struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store caches first outcomes in the shared cache, falling back to a bounded
// in-process cache when the shared store is unavailable. Under an outage
// idempotency degrades to best-effort per process instead of disappearing.
type Store struct {
	rdb          *redis.Client
	fallback     *boundedcache.Cache
	reservations *boundedcache.Cache
	ttl          time.Duration
}

// NewStore creates a store over the shared cache client. A nil client runs
// the store purely on the in-process fallback (used in tests).
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rdb:          rdb,
		fallback:     boundedcache.New(fallbackCapacity, ttl),
		reservations: boundedcache.New(fallbackCapacity, ReservationTTL),
		ttl:          ttl,
	}
}

// Get returns the cached record for key, if any.
func (s *Store) Get(ctx context.Context, key string) (*Record, bool) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, recordPrefix+key).Result()
		if err == nil {
			return decodeRecord(raw)
		}
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Idempotency] shared cache read failed, using in-process fallback: %v", err)
			return s.getFallback(key)
		}
		return nil, false
	}
	return s.getFallback(key)
}

// Put stores the outcome of a completed request.
func (s *Store) Put(ctx context.Context, key string, rec *Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Errorf("[Idempotency] encode record: %v", err)
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, recordPrefix+key, raw, s.ttl).Err(); err == nil {
			return
		} else {
			log.Warnf("[Idempotency] shared cache write failed, using in-process fallback: %v", err)
		}
	}
	s.fallback.Put(key, string(raw))
}

// Reserve claims key for the current request. It returns false when another
// request already holds the reservation and has not yet published a record.
func (s *Store) Reserve(ctx context.Context, key string) bool {
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, reservationPrefix+key, "1", ReservationTTL).Result()
		if err == nil {
			return ok
		}
		log.Warnf("[Idempotency] shared cache reserve failed, using in-process fallback: %v", err)
	}
	return s.reservations.PutIfAbsent(reservationPrefix+key, "1")
}

// Release frees the reservation; called after the record is published or the
// request failed without a cacheable outcome.
func (s *Store) Release(ctx context.Context, key string) {
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, reservationPrefix+key).Err(); err == nil {
			return
		}
	}
	s.reservations.Delete(reservationPrefix + key)
}

func (s *Store) getFallback(key string) (*Record, bool) {
	raw, ok := s.fallback.Get(key)
	if !ok {
		return nil, false
	}
	return decodeRecord(raw)
}

func decodeRecord(raw string) (*Record, bool) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Warnf("[Idempotency] corrupt cached record dropped: %v", err)
		return nil, false
	}
	return &rec, true
}
