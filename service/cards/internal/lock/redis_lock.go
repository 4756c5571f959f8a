package lock

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Manager gestisce l'acquisizione e il rilascio di lock brevi.
type Manager interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

const accountKeyPrefix = "lock:account:"

// AccountKey ritorna la chiave di lock dell'account.
func AccountKey(userID string) string {
	return accountKeyPrefix + userID
}

// AccountKeys ritorna le chiavi ordinate e senza duplicati,
// cosi' chi blocca piu' account li acquisisce sempre nello stesso ordine.
func AccountKeys(userIDs ...string) []string {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, AccountKey(id))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// RedisLock implementa un lock distribuito basato su Redis.
type RedisLock struct {
	client  redis.UniversalClient
	ttl     time.Duration
	retries int
	backoff time.Duration
}

func NewRedisLock(client redis.UniversalClient, ttl time.Duration, retries int, backoff time.Duration) *RedisLock {
	// TTL breve evita lock orfani in caso di crash.
	return &RedisLock{
		client:  client,
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := newToken()
	for attempt := 0; attempt <= l.retries; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}
		if attempt < l.retries {
			if err := sleep(ctx, l.backoff); err != nil {
				return "", false, err
			}
		}
	}
	return "", false, nil
}

func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return errors.New("key e token sono richiesti")
	}
	return releaseLua.Run(ctx, l.client, []string{key}, token).Err()
}

// Rilascia solo se il token e' ancora quello di chi ha acquisito.
var releaseLua = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func newToken() string {
	return uuid.NewString()
}

// sleep attende d o la cancellazione del context.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
