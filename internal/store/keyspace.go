package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/segmentdb/segment/internal/memprobe"
	"github.com/segmentdb/segment/internal/protocol"
)

// ExpiringSampleSize is how many entries the expiring-evictor task samples
// from the TTL index per tick.
const ExpiringSampleSize = 5

// MaxMemorySampleSize is how many keys the max-memory evictor samples from
// the store per tick.
const MaxMemorySampleSize = 3

const expiringEvictorInterval = 500 * time.Millisecond
const maxMemoryEvictorInterval = 1000 * time.Millisecond

// Keyspace is a single namespace of key/value entries with its own TTL
// index and eviction policy. The zero Keyspace is not usable; construct one
// with newKeyspace.
type Keyspace struct {
	name string

	mu    sync.Mutex
	store map[string]*Value

	expMu    sync.Mutex
	expiring map[string]uint64

	evictor Evictor

	// done is closed by Drop to terminate this keyspace's evictor tasks
	// independently of the server-wide shutdown signal.
	done      chan struct{}
	closeOnce sync.Once
}

func newKeyspace(name string, evictor Evictor) *Keyspace {
	return &Keyspace{
		name:     name,
		store:    make(map[string]*Value),
		expiring: make(map[string]uint64),
		evictor:  evictor,
		done:     make(chan struct{}),
	}
}

// stop terminates this keyspace's evictor loops. Safe to call more than
// once.
func (k *Keyspace) stop() {
	k.closeOnce.Do(func() { close(k.done) })
}

// Set unconditionally overwrites key with value, recording a TTL entry if
// expireAt is non-nil. A prior TTL on the same key is cleared when this call
// carries no expireAt.
func (k *Keyspace) Set(key, value []byte, expireAt *uint64) protocol.Frame {
	k.set(key, value, expireAt)
	return protocol.Boolean(true)
}

// SetIfNotExists behaves like Set but only if key is absent.
func (k *Keyspace) SetIfNotExists(key, value []byte, expireAt *uint64) protocol.Frame {
	ks := string(key)
	k.mu.Lock()
	_, exists := k.store[ks]
	k.mu.Unlock()
	if exists {
		return protocol.Boolean(false)
	}
	k.set(key, value, expireAt)
	return protocol.Boolean(true)
}

// SetIfExists behaves like Set but only if key is already present.
func (k *Keyspace) SetIfExists(key, value []byte, expireAt *uint64) protocol.Frame {
	ks := string(key)
	k.mu.Lock()
	_, exists := k.store[ks]
	k.mu.Unlock()
	if !exists {
		return protocol.Boolean(false)
	}
	k.set(key, value, expireAt)
	return protocol.Boolean(true)
}

func (k *Keyspace) set(key, value []byte, expireAt *uint64) {
	ks := string(key)
	v := newValue(value, expireAt)

	k.mu.Lock()
	k.store[ks] = v
	k.mu.Unlock()

	k.expMu.Lock()
	if expireAt != nil {
		k.expiring[ks] = *expireAt
	} else {
		delete(k.expiring, ks)
	}
	k.expMu.Unlock()
}

// Get returns String(data) if key is live, or Null if it is absent or has
// expired (expiry is enforced lazily here).
func (k *Keyspace) Get(key []byte) protocol.Frame {
	ks := string(key)
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.store[ks]
	if !ok {
		return protocol.Null
	}
	if v.expired(nowSec()) {
		delete(k.store, ks)
		return protocol.Null
	}
	v.touch()
	data := make([]byte, len(v.Data))
	copy(data, v.Data)
	return protocol.String(data)
}

// Del removes key if present, reporting whether it was.
func (k *Keyspace) Del(key []byte) protocol.Frame {
	ks := string(key)
	k.mu.Lock()
	_, existed := k.store[ks]
	delete(k.store, ks)
	k.mu.Unlock()
	return protocol.Boolean(existed)
}

// Count reports the number of entries currently in store, including keys
// that have expired but not yet been swept.
func (k *Keyspace) Count() protocol.Frame {
	k.mu.Lock()
	n := len(k.store)
	k.mu.Unlock()
	return protocol.Integer(int64(n))
}

// Ttl reports the remaining time-to-live in milliseconds, or Null if key has
// no TTL, is absent, or has already expired.
func (k *Keyspace) Ttl(key []byte) protocol.Frame {
	ks := string(key)
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.store[ks]
	if !ok {
		return protocol.Null
	}
	if v.ExpireAt == nil {
		v.touch()
		return protocol.Null
	}
	now := nowSec()
	if *v.ExpireAt <= now {
		delete(k.store, ks)
		return protocol.Null
	}
	v.touch()
	return protocol.Integer(int64((*v.ExpireAt - now) * 1000))
}

// runExpiringEvictor samples the TTL index every expiringEvictorInterval and
// removes keys whose expiry has passed. It exits when shutdownDone is closed
// (server-wide shutdown) or when this keyspace is dropped.
func (k *Keyspace) runExpiringEvictor(shutdownDone <-chan struct{}) {
	ticker := time.NewTicker(expiringEvictorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdownDone:
			return
		case <-k.done:
			return
		case <-ticker.C:
			k.sweepExpiring(nowSec())
		}
	}
}

func (k *Keyspace) sweepExpiring(now uint64) {
	k.expMu.Lock()
	defer k.expMu.Unlock()

	type candidate struct {
		key      string
		expireAt uint64
	}
	candidates := make([]candidate, 0, ExpiringSampleSize)
	for key, expireAt := range k.expiring {
		candidates = append(candidates, candidate{key, expireAt})
		if len(candidates) >= ExpiringSampleSize {
			break
		}
	}
	if len(candidates) == 0 {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range candidates {
		if c.expireAt <= now {
			delete(k.store, c.key)
			delete(k.expiring, c.key)
		}
	}
}

// runMaxMemoryEvictor samples the store every maxMemoryEvictorInterval and,
// once resident memory exceeds maxMemory, evicts a single key per tick
// according to the keyspace's evictor policy. It exits when shutdownDone is
// closed, when this keyspace is dropped, or when the probe fails (after
// logging).
func (k *Keyspace) runMaxMemoryEvictor(shutdownDone <-chan struct{}, probe memprobe.Probe, maxMemory uint64, logger *slog.Logger) {
	ticker := time.NewTicker(maxMemoryEvictorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdownDone:
			return
		case <-k.done:
			return
		case <-ticker.C:
			if !k.maxMemoryTick(probe, maxMemory, logger) {
				return
			}
		}
	}
}

// maxMemoryTick runs one tick of the max-memory evictor. It returns false if
// the probe failed and the loop should terminate.
func (k *Keyspace) maxMemoryTick(probe memprobe.Probe, maxMemory uint64, logger *slog.Logger) bool {
	resident, err := probe.ResidentBytes(context.Background())
	if err != nil {
		logger.Error("max-memory evictor: probe failed, terminating evictor loop",
			slog.String("keyspace", k.name),
			slog.Any("error", err),
		)
		return false
	}
	if resident < maxMemory {
		return true
	}

	logger.Debug("max-memory evictor: threshold exceeded, sampling for eviction",
		slog.String("keyspace", k.name),
		slog.String("resident", humanize.Bytes(resident)),
		slog.String("threshold", humanize.Bytes(maxMemory)),
	)

	k.expMu.Lock()
	defer k.expMu.Unlock()
	k.mu.Lock()
	defer k.mu.Unlock()

	type sample struct {
		key          string
		lastAccessed time.Time
	}
	samples := make([]sample, 0, MaxMemorySampleSize)
	for key, v := range k.store {
		samples = append(samples, sample{key, v.LastAccessed})
		if len(samples) >= MaxMemorySampleSize {
			break
		}
	}
	if len(samples) == 0 {
		return true
	}

	var victim string
	switch k.evictor {
	case EvictorLru:
		victim = samples[0].key
		oldest := samples[0].lastAccessed
		for _, s := range samples[1:] {
			if s.lastAccessed.Before(oldest) {
				victim = s.key
				oldest = s.lastAccessed
			}
		}
	case EvictorRandom:
		victim = samples[len(samples)-1].key
	default:
		return true
	}

	delete(k.store, victim)
	delete(k.expiring, victim)
	return true
}
