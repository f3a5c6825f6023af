package cache

import "sync"

// Keeps idle keys forever
type basicRetention struct {
	idle     map[string]struct{}
	idleLock sync.Mutex
}

func (r *basicRetention) Idle(key string) {
	r.idleLock.Lock()
	defer r.idleLock.Unlock()

	r.idle[key] = struct{}{}
}

func (r *basicRetention) Forget(key string) {
	r.idleLock.Lock()
	defer r.idleLock.Unlock()

	delete(r.idle, key)
}

func (r *basicRetention) Holds(key string) bool {
	r.idleLock.Lock()
	defer r.idleLock.Unlock()

	_, ok := r.idle[key]
	return ok
}

func (r *basicRetention) Reset() {
	r.idleLock.Lock()
	defer r.idleLock.Unlock()

	clear(r.idle)
}

func (r *basicRetention) OnExpire(func(key string)) {
}

func (r *basicRetention) Len() int {
	r.idleLock.Lock()
	defer r.idleLock.Unlock()

	return len(r.idle)
}

func (r *basicRetention) Close() {
}

func NewBasicRetention() *basicRetention {
	return &basicRetention{
		idle: make(map[string]struct{}),
	}
}
