// Package verdict implements the domain-classification cache: a
// (name, type) keyed table of poisoning verdicts, aged by a 1 Hz tick.
//
// The bucket layout is grounded on the chained hash table in the
// original cache.c this forwarder descends from, including its bucket
// count (2039, a prime chosen to spread names well) and its
// first-insert-wins semantics. The original's tick implementation has an
// off-by-one: when the first entry in a bucket's chain expires, it does
// `htable[i] = NULL` instead of `htable[i] = entry->next`, discarding
// the rest of the chain along with the expired head. This package does
// not reproduce that: Tick always relinks around exactly the expired
// entry.
package verdict

import "sync"

// BucketCount is the number of hash buckets in the cache's table.
const BucketCount = 2039

// DefaultTTL is the initial ttl, in ticks, given to a freshly inserted
// entry: 518400 ticks at 1 Hz is 7 days.
const DefaultTTL = 518400

// Key identifies a cached verdict: a lowercased domain name paired with
// a record type. Real queries use their actual qtype; classification
// rows use the synthetic BLOCK type so a verdict for "example.com" never
// collides with a real cached A or AAAA record should this cache ever be
// extended to hold those too.
type Key struct {
	Name string
	Type uint16
}

// Entry is the cached value for a Key.
type Entry struct {
	Blocked bool
	TTL     uint32
}

type node struct {
	key   Key
	value Entry
	next  *node
}

// Cache is the chained hash table of verdicts.
type Cache struct {
	mu      sync.Mutex
	buckets []*node
}

// New creates an empty Cache with BucketCount buckets.
func New() *Cache {
	return &Cache{buckets: make([]*node, BucketCount)}
}

func hash(k Key) int {
	h := int(k.Type)
	for i := 0; i < len(k.Name); i++ {
		h = (h*257 + int(k.Name[i])) % BucketCount
	}
	if h < 0 {
		h += BucketCount
	}
	return h
}

// Insert adds entry under key if no entry exists for it yet. It returns
// false without modifying the cache if key is already present: the
// first verdict wins and the cache never overwrites.
func (c *Cache) Insert(key Key, entry Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := hash(key)
	for n := c.buckets[h]; n != nil; n = n.next {
		if n.key == key {
			return false
		}
	}
	c.buckets[h] = &node{key: key, value: entry, next: c.buckets[h]}
	return true
}

// Search looks up key and returns its entry, if present.
func (c *Cache) Search(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := hash(key)
	for n := c.buckets[h]; n != nil; n = n.next {
		if n.key == key {
			return n.value, true
		}
	}
	return Entry{}, false
}

// Tick decrements every entry's ttl by one and evicts entries that reach
// zero. Only the expired node is unlinked from its chain; the rest of
// the bucket survives.
func (c *Cache) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, head := range c.buckets {
		var prev *node
		n := head
		for n != nil {
			n.value.TTL--
			if n.value.TTL == 0 {
				if prev == nil {
					c.buckets[i] = n.next
				} else {
					prev.next = n.next
				}
				n = n.next
				continue
			}
			prev = n
			n = n.next
		}
	}
}

// Row pairs a Key with its Entry, for snapshot reporting.
type Row struct {
	Key   Key
	Entry Entry
}

// Snapshot returns every cached entry, for the admin status surface.
// The returned slice is a point-in-time copy.
func (c *Cache) Snapshot() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Row
	for _, head := range c.buckets {
		for n := head; n != nil; n = n.next {
			out = append(out, Row{Key: n.key, Entry: n.value})
		}
	}
	return out
}
