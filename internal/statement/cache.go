package statement

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
)

// Preparer compiles a query into a statement handle. *sql.DB satisfies it.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Cache keeps compiled statements keyed by their query text.
//
// Eviction follows insertion order only: a cache hit does not move the
// entry, so once the cache is full the oldest inserted statement goes
// first even if it was just used. A statement handed out by Acquire stays
// open until it is released, even if it is evicted meanwhile.
type Cache struct {
	db      Preparer
	maxSize int

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, oldest first

	logger *slog.Logger
}

type entry struct {
	stmt    *sql.Stmt
	users   int  // outstanding Acquire calls
	evicted bool // close on last release
}

// NewCache creates a statement cache holding at most maxSize statements
func NewCache(db Preparer, maxSize int, logger *slog.Logger) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		db:      db,
		maxSize: maxSize,
		entries: make(map[string]*entry),
		order:   make([]string, 0, maxSize+1),
		logger:  logger.With(slog.String("component", "statement_cache")),
	}
}

// GetOrCreate returns the cached statement for query, compiling and caching
// it on a miss. It returns nil if the query does not compile. The handle is
// only guaranteed open until the next call that may evict it; callers
// running concurrently with other cache users should use Acquire.
func (c *Cache) GetOrCreate(ctx context.Context, query string) *sql.Stmt {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookupLocked(ctx, query)
	if e == nil {
		return nil
	}
	return e.stmt
}

// Acquire is GetOrCreate for a caller that holds the statement while other
// goroutines use the cache. The statement is not closed before release is
// called. release may be called more than once.
func (c *Cache) Acquire(ctx context.Context, query string) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookupLocked(ctx, query)
	if e == nil {
		return nil, func() {}
	}
	e.users++

	var once sync.Once
	return e.stmt, func() {
		once.Do(func() { c.release(query, e) })
	}
}

func (c *Cache) release(query string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.users--
	if e.users == 0 && e.evicted {
		c.closeStmt(query, e.stmt)
	}
}

// lookupLocked returns the entry for query, compiling it on a miss. Caller
// holds c.mu.
func (c *Cache) lookupLocked(ctx context.Context, query string) *entry {
	if e, ok := c.entries[query]; ok {
		return e
	}

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		c.logger.Error("failed to compile statement", slog.String("query", query), slog.Any("error", err))
		return nil
	}

	e := &entry{stmt: stmt}
	c.entries[query] = e
	c.order = append(c.order, query)
	if len(c.order) > c.maxSize {
		c.evictOldest()
	}
	return e
}

// CreateOnce compiles query without caching it. Meant for statements that
// run at most once, such as migrations. The caller owns the statement and
// must close it. It returns nil if the query does not compile.
func (c *Cache) CreateOnce(ctx context.Context, query string) *sql.Stmt {
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		c.logger.Error("failed to compile one-time statement", slog.String("query", query), slog.Any("error", err))
		return nil
	}
	return stmt
}

// evictOldest drops the oldest inserted entry. Caller holds c.mu.
func (c *Cache) evictOldest() {
	oldest := c.order[0]
	c.order[0] = ""
	c.order = c.order[1:]

	e, ok := c.entries[oldest]
	if !ok {
		return
	}
	delete(c.entries, oldest)
	c.logger.Debug("evicted statement", slog.String("query", oldest), slog.Int("users", e.users))
	if e.users > 0 {
		e.evicted = true
		return
	}
	c.closeStmt(oldest, e.stmt)
}

func (c *Cache) closeStmt(query string, stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		c.logger.Warn("failed to close evicted statement", slog.String("query", query), slog.Any("error", err))
	}
}

// Contains reports whether query is currently cached
func (c *Cache) Contains(query string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[query]
	return ok
}

// Len returns the number of cached statements
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes every cached statement and empties the cache. Statements
// still held through Acquire are closed when released.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for query, e := range c.entries {
		delete(c.entries, query)
		if e.users > 0 {
			e.evicted = true
			continue
		}
		if err := e.stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.order = c.order[:0]
	return firstErr
}
