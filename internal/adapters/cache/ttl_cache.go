package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Keeps idle keys for at most ttl, and at most capacity of them, least recently idled first out
type ttlRetention struct {
	cache *ttlcache.Cache[string, struct{}]

	expireLock sync.Mutex
	onExpire   func(key string)

	stopOnce sync.Once
}

func (r *ttlRetention) Idle(key string) {
	r.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
}

func (r *ttlRetention) Forget(key string) {
	r.cache.Delete(key)
}

func (r *ttlRetention) Holds(key string) bool {
	return r.cache.Has(key)
}

func (r *ttlRetention) Reset() {
	r.cache.DeleteAll()
}

func (r *ttlRetention) OnExpire(fn func(key string)) {
	r.expireLock.Lock()
	defer r.expireLock.Unlock()
	r.onExpire = fn
}

func (r *ttlRetention) Len() int {
	return r.cache.Len()
}

func (r *ttlRetention) Close() {
	r.stopOnce.Do(r.cache.Stop)
}

func (r *ttlRetention) evicted(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
	// Explicit deletes come from Forget and Reset, the owner already knows about those
	if reason == ttlcache.EvictionReasonDeleted {
		return
	}

	r.expireLock.Lock()
	onExpire := r.onExpire
	r.expireLock.Unlock()
	if onExpire == nil {
		return
	}

	// The owner may hold its own lock while calling Idle, which can evict synchronously
	go onExpire(item.Key())
}

func NewTTLRetention(ttl time.Duration, capacity uint64) *ttlRetention {
	idleTTLCache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithCapacity[string, struct{}](capacity),
	)

	retention := &ttlRetention{cache: idleTTLCache}
	idleTTLCache.OnEviction(retention.evicted)

	go idleTTLCache.Start()
	return retention
}
