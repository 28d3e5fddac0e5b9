// Package tilecache is the in-memory LRU for serialized tile responses.
// Eviction is byte-budget driven rather than entry-count driven because tile
// payloads vary by three orders of magnitude between zoom levels.
package tilecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
)

type entry struct {
	key       string
	val       []byte
	expiresAt time.Time
}

// Stats is the payload of the cache stats endpoint.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	Sets       int64   `json:"sets"`
	Expired    int64   `json:"expired"`
	Entries    int     `json:"entries"`
	SizeMB     float64 `json:"sizeMB"`
	BudgetMB   float64 `json:"budgetMB"`
	TTLSeconds float64 `json:"ttlSeconds"`
}

type Cache struct {
	mu     sync.Mutex
	ll     *list.List
	items  map[string]*list.Element
	bytes  int64
	budget int64
	ttl    time.Duration

	hits, misses, evictions, sets, expired int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a cache with the given byte budget and entry TTL and starts the
// periodic expiry sweep. Close stops the sweeper.
func New(budgetBytes int64, ttl, sweepEvery time.Duration) *Cache {
	c := &Cache{
		ll:     list.New(),
		items:  map[string]*list.Element{},
		budget: budgetBytes,
		ttl:    ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if sweepEvery <= 0 {
		sweepEvery = 2 * time.Minute
	}
	go c.sweeper(sweepEvery)
	return c
}

// Entry cost is the serialized byte count doubled, standing in for the map,
// list and header bookkeeping around the payload.
func entrySize(e *entry) int64 {
	return int64(len(e.key)+len(e.val)) * 2
}

// Get returns the cached payload. An expired entry counts as a miss and is
// removed eagerly.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		c.expired++
		c.misses++
		c.publishLocked()
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return e.val, true
}

// Set stores a payload, evicting least-recently-used entries until the byte
// budget holds. A payload larger than the whole budget is not cached.
func (c *Cache) Set(key string, val []byte) {
	e := &entry{key: key, val: val, expiresAt: time.Now().Add(c.ttl)}
	if entrySize(e) > c.budget {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	el := c.ll.PushFront(e)
	c.items[key] = el
	c.bytes += entrySize(e)
	c.sets++

	for c.bytes > c.budget {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
		c.evictions++
	}
	c.publishLocked()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
		c.publishLocked()
	}
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.ll.Init()
	c.items = map[string]*list.Element{}
	c.bytes = 0
	c.publishLocked()
	return n
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); now.After(e.expiresAt) {
			c.removeLocked(el)
			c.expired++
			dropped++
		}
		el = prev
	}
	if dropped > 0 {
		c.publishLocked()
	}
	return dropped
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Sets:       c.sets,
		Expired:    c.expired,
		Entries:    len(c.items),
		SizeMB:     float64(c.bytes) / (1024 * 1024),
		BudgetMB:   float64(c.budget) / (1024 * 1024),
		TTLSeconds: c.ttl.Seconds(),
	}
}

func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache) sweeper(every time.Duration) {
	defer close(c.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.bytes -= entrySize(e)
}

func (c *Cache) publishLocked() {
	observability.SetTileCacheSize(len(c.items), c.bytes)
}
