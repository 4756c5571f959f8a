package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalLock e' il Manager in-process usato quando Redis non e' configurato.
// Stessa semantica di RedisLock: token, TTL, retry con backoff.
type LocalLock struct {
	mu      sync.Mutex
	held    map[string]localEntry
	ttl     time.Duration
	retries int
	backoff time.Duration
	now     func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLock(ttl time.Duration, retries int, backoff time.Duration) *LocalLock {
	return &LocalLock{
		held:    make(map[string]localEntry),
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
		now:     time.Now,
	}
}

func (l *LocalLock) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := newToken()
	for attempt := 0; attempt <= l.retries; attempt++ {
		if l.tryAcquire(key, token) {
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

func (l *LocalLock) tryAcquire(key, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return false
	}
	l.held[key] = localEntry{token: token, expires: now.Add(l.ttl)}
	return true
}

func (l *LocalLock) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return errors.New("key e token sono richiesti")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[key]; ok && entry.token == token {
		delete(l.held, key)
	}
	return nil
}
