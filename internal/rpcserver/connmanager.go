package rpcserver

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/textindex"
)

// DefaultMaxOpenConnections is the connection cache capacity when
// CRUXE_MAX_OPEN_CONNECTIONS is unset.
const DefaultMaxOpenConnections = 32

// managedConn is one cached state.db store plus its outstanding handle
// count. An entry evicted by the LRU while handles are outstanding parks in
// the overflow map and closes when the last handle is released.
type managedConn struct {
	store   *storage.Store
	path    string
	handles int
	evicted bool
}

// ConnHandle is a leased reference to a cached store. Callers must Release
// when done; the underlying connection outlives the lease unless it was
// LRU-evicted in the meantime.
type ConnHandle struct {
	cm   *ConnManager
	conn *managedConn
}

func (h *ConnHandle) Store() *storage.Store { return h.conn.store }

func (h *ConnHandle) Release() {
	h.cm.release(h.conn)
}

// ConnManager caches open SQLite stores keyed by db path, LRU-evicted when
// CRUXE_MAX_OPEN_CONNECTIONS is exceeded. An entry is only closed once no
// outstanding handle holds it. It also caches one textindex.Set per index
// directory, reopened per query so readers observe freshly published
// segments.
type ConnManager struct {
	mu            sync.Mutex
	cache         *lru.Cache[string, *managedConn]
	overflow      map[string]*managedConn
	busyTimeoutMs int
	cacheSize     int

	textMu sync.Mutex
	texts  map[string]*textindex.Set
}

func NewConnManager(capacity, busyTimeoutMs, cacheSize int) (*ConnManager, error) {
	if capacity <= 0 {
		capacity = DefaultMaxOpenConnections
	}
	cm := &ConnManager{
		overflow:      make(map[string]*managedConn),
		busyTimeoutMs: busyTimeoutMs,
		cacheSize:     cacheSize,
		texts:         make(map[string]*textindex.Set),
	}
	cache, err := lru.NewWithEvict[string, *managedConn](capacity, cm.onEvict)
	if err != nil {
		return nil, err
	}
	cm.cache = cache
	return cm, nil
}

// onEvict runs under cm.mu (all cache mutations happen with it held).
func (cm *ConnManager) onEvict(path string, conn *managedConn) {
	conn.evicted = true
	if conn.handles > 0 {
		cm.overflow[path] = conn
		return
	}
	_ = conn.store.Close()
}

// Acquire returns a leased handle for the store at dbPath, opening it on a
// cache miss.
func (cm *ConnManager) Acquire(ctx context.Context, dbPath string) (*ConnHandle, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn, ok := cm.cache.Get(dbPath); ok {
		conn.handles++
		return &ConnHandle{cm: cm, conn: conn}, nil
	}
	if conn, ok := cm.overflow[dbPath]; ok {
		conn.handles++
		return &ConnHandle{cm: cm, conn: conn}, nil
	}

	store, err := storage.Open(ctx, dbPath, cm.busyTimeoutMs, cm.cacheSize)
	if err != nil {
		return nil, err
	}
	conn := &managedConn{store: store, path: dbPath, handles: 1}
	cm.cache.Add(dbPath, conn)
	return &ConnHandle{cm: cm, conn: conn}, nil
}

func (cm *ConnManager) release(conn *managedConn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	conn.handles--
	if conn.handles <= 0 && conn.evicted {
		delete(cm.overflow, conn.path)
		_ = conn.store.Close()
	}
}

// Invalidate drops a path's cached connection explicitly, used when a
// request fails with a sqlite error that suggests the handle is wedged.
func (cm *ConnManager) Invalidate(dbPath string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cache.Remove(dbPath) // onEvict closes or parks it
}

// Len reports the cached (non-overflow) connection count.
func (cm *ConnManager) Len() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.cache.Len()
}

// TextSet returns the cached base text index set for a project data dir,
// reopening its readers if it was already open (readers reopened per
// query, per the index contract; the open itself is amortized by prewarm).
func (cm *ConnManager) TextSet(dataDir string) (*textindex.Set, error) {
	return cm.textSet(overlay.Paths{DataDir: dataDir}.BaseDir(), false)
}

// WarmTextSet opens (without reopening) the base set for prewarm.
func (cm *ConnManager) WarmTextSet(dataDir string) (*textindex.Set, error) {
	return cm.textSet(overlay.Paths{DataDir: dataDir}.BaseDir(), true)
}

// OverlayTextSet validates overlayDir against dataDir before opening it,
// rejecting any overlay whose canonical path escapes the data dir.
func (cm *ConnManager) OverlayTextSet(dataDir, overlayDir string) (*textindex.Set, error) {
	canon, err := overlay.CanonicalizeAndCheck(dataDir, overlayDir)
	if err != nil {
		return nil, err
	}
	return cm.textSet(canon, false)
}

func (cm *ConnManager) textSet(dir string, warmOnly bool) (*textindex.Set, error) {
	cm.textMu.Lock()
	defer cm.textMu.Unlock()
	if s, ok := cm.texts[dir]; ok {
		if warmOnly {
			return s, nil
		}
		if err := s.Reopen(); err != nil {
			delete(cm.texts, dir)
			return nil, cerrors.Wrap("textindex", "reopen reader", err)
		}
		return s, nil
	}
	s, err := textindex.Open(dir)
	if err != nil {
		return nil, err
	}
	cm.texts[dir] = s
	return s, nil
}

// Close tears down every cached connection and text set at shutdown.
func (cm *ConnManager) Close() {
	cm.mu.Lock()
	cm.cache.Purge() // onEvict closes idle entries, parks held ones in overflow
	for _, conn := range cm.overflow {
		_ = conn.store.Close()
	}
	cm.overflow = make(map[string]*managedConn)
	cm.mu.Unlock()

	cm.textMu.Lock()
	for _, s := range cm.texts {
		_ = s.Close()
	}
	cm.texts = make(map[string]*textindex.Set)
	cm.textMu.Unlock()
}
