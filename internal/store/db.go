// Package store implements the in-memory keyspace registry: per-namespace
// key/value maps with lazy TTL expiry and two background evictor loops per
// keyspace (an expiring-key sweeper and an optional max-memory evictor).
//
// The expiring-key sweeper takes the first entries of the TTL index in Go's
// map iteration order, which is unspecified, so it is a probabilistic sweep
// with no fairness guarantee across keys.
package store

import (
	"log/slog"
	"sync"

	"github.com/segmentdb/segment/internal/memprobe"
	"github.com/segmentdb/segment/internal/protocol"
	"github.com/segmentdb/segment/internal/shutdown"
)

// Database is the top-level keyspace registry. Keyspace insertion/removal
// takes an exclusive lock; per-key dispatch only needs a shared lock since
// it never mutates the registry itself.
type Database struct {
	mu        sync.RWMutex
	keyspaces map[string]*Keyspace

	maxMemory uint64
	probe     memprobe.Probe
	notifier  *shutdown.Notifier
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New constructs an empty Database. maxMemory is the global resident-memory
// threshold (0 disables the max-memory evictor for every keyspace
// regardless of its own evictor policy). probe may be nil only if maxMemory
// is 0, since it is never consulted in that case.
func New(maxMemory uint64, probe memprobe.Probe, notifier *shutdown.Notifier, logger *slog.Logger) *Database {
	return &Database{
		keyspaces: make(map[string]*Keyspace),
		maxMemory: maxMemory,
		probe:     probe,
		notifier:  notifier,
		logger:    logger,
	}
}

// Wait blocks until every evictor loop spawned by this Database has exited.
// Callers should Shutdown the Notifier passed to New before calling Wait.
func (d *Database) Wait() {
	d.wg.Wait()
}

func keyspaceExists(name []byte) protocol.Frame {
	return protocol.Err("keyspace '" + string(name) + "' already exists")
}

func keyspaceDoesNotExist(name []byte) protocol.Frame {
	return protocol.Err("keyspace '" + string(name) + "' does not exist")
}

// Create inserts a new keyspace and starts its evictor loops.
func (d *Database) Create(name []byte, evictor Evictor, ifNotExists bool) protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := string(name)
	if _, exists := d.keyspaces[key]; exists {
		if ifNotExists {
			return protocol.Boolean(false)
		}
		return keyspaceExists(name)
	}

	ks := newKeyspace(key, evictor)
	d.keyspaces[key] = ks
	d.startEvictors(ks)
	return protocol.Boolean(true)
}

// startEvictors launches the keyspace's background tasks. Each holds its own
// Notifier subscription for server-wide shutdown and also watches the
// keyspace's done channel, which Drop closes, so a later Drop stops them
// without affecting any other keyspace.
func (d *Database) startEvictors(ks *Keyspace) {
	expiringDone := d.notifier.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.notifier.Unsubscribe(expiringDone)
		ks.runExpiringEvictor(expiringDone)
	}()

	if ks.evictor != EvictorNop && d.maxMemory > 0 {
		maxMemDone := d.notifier.Subscribe()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.notifier.Unsubscribe(maxMemDone)
			ks.runMaxMemoryEvictor(maxMemDone, d.probe, d.maxMemory, d.logger)
		}()
	}
}

// Drop removes a keyspace, which cancels its evictor tasks.
func (d *Database) Drop(name []byte, ifExists bool) protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := string(name)
	ks, exists := d.keyspaces[key]
	if !exists {
		if ifExists {
			return protocol.Boolean(false)
		}
		return keyspaceDoesNotExist(name)
	}
	delete(d.keyspaces, key)
	ks.stop()
	return protocol.Boolean(true)
}

// Keyspaces returns an Array of String frames naming every live keyspace,
// in unspecified order.
func (d *Database) Keyspaces() protocol.Frame {
	d.mu.RLock()
	defer d.mu.RUnlock()

	items := make([]protocol.Frame, 0, len(d.keyspaces))
	for name := range d.keyspaces {
		items = append(items, protocol.String([]byte(name)))
	}
	return protocol.Array(items)
}

func (d *Database) lookup(name []byte) (*Keyspace, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ks, ok := d.keyspaces[string(name)]
	return ks, ok
}

// Set dispatches to the named keyspace's Set, SetIfExists, or
// SetIfNotExists depending on ifExists/ifNotExists.
func (d *Database) Set(keyspace, key, value []byte, expireAt *uint64, ifExists, ifNotExists bool) protocol.Frame {
	ks, ok := d.lookup(keyspace)
	if !ok {
		return keyspaceDoesNotExist(keyspace)
	}
	switch {
	case ifExists:
		return ks.SetIfExists(key, value, expireAt)
	case ifNotExists:
		return ks.SetIfNotExists(key, value, expireAt)
	default:
		return ks.Set(key, value, expireAt)
	}
}

// Get dispatches to the named keyspace's Get.
func (d *Database) Get(keyspace, key []byte) protocol.Frame {
	ks, ok := d.lookup(keyspace)
	if !ok {
		return keyspaceDoesNotExist(keyspace)
	}
	return ks.Get(key)
}

// Del dispatches to the named keyspace's Del.
func (d *Database) Del(keyspace, key []byte) protocol.Frame {
	ks, ok := d.lookup(keyspace)
	if !ok {
		return keyspaceDoesNotExist(keyspace)
	}
	return ks.Del(key)
}

// Count dispatches to the named keyspace's Count.
func (d *Database) Count(keyspace []byte) protocol.Frame {
	ks, ok := d.lookup(keyspace)
	if !ok {
		return keyspaceDoesNotExist(keyspace)
	}
	return ks.Count()
}

// Ttl dispatches to the named keyspace's Ttl.
func (d *Database) Ttl(keyspace, key []byte) protocol.Frame {
	ks, ok := d.lookup(keyspace)
	if !ok {
		return keyspaceDoesNotExist(keyspace)
	}
	return ks.Ttl(key)
}

// Ping always succeeds.
func (d *Database) Ping() protocol.Frame {
	return protocol.String([]byte("PONG"))
}
