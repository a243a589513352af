// Package nodecache persists the reader's view of every node it has seen
// advertise a name, as a single JSON document written atomically.
package nodecache

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/smartyhall/meshbbs-gateway/internal/atomicfile"
	"github.com/smartyhall/meshbbs-gateway/internal/meshid"
)

// Node is one entry in the cache: a node id's advertised names and
// first/last-seen timestamps.
type Node struct {
	LongName  string    `json:"long_name"`
	ShortName string    `json:"short_name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type document struct {
	Nodes       map[string]Node `json:"nodes"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Cache is a concurrency-safe, disk-backed map of node id to Node. The
// reader owns the one live instance; writes are best-effort and never
// abort the caller.
type Cache struct {
	mu    sync.Mutex
	path  string
	nodes map[uint32]Node
}

// Load reads path if it exists, tolerating a leading NUL byte left by an
// earlier non-atomic writer, or starts empty if the file is absent.
func Load(path string) (*Cache, error) {
	c := &Cache{path: path, nodes: make(map[uint32]Node)}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	b = atomicfile.TrimLeadingNUL(b)

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		// A corrupt cache is not fatal: start fresh rather than block
		// startup on a file the reader itself will happily repopulate.
		return c, nil
	}
	for idStr, n := range doc.Nodes {
		id, err := meshid.Parse(idStr)
		if err != nil {
			continue
		}
		c.nodes[id] = n
	}
	return c, nil
}

// Upsert records or refreshes a node's entry. If the node is new,
// FirstSeen and LastSeen are both set to now; otherwise only LastSeen
// advances.
func (c *Cache) Upsert(id uint32, longName, shortName string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	if !ok {
		n = Node{FirstSeen: now}
	}
	if longName != "" {
		n.LongName = longName
	}
	if shortName != "" {
		n.ShortName = shortName
	}
	n.LastSeen = now
	c.nodes[id] = n
}

// Get returns the cached entry for id, if any.
func (c *Cache) Get(id uint32) (Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	return n, ok
}

// Prune removes entries whose LastSeen is older than maxAge and persists
// the result. Called on the reader's 10-minute prune tick.
func (c *Cache) Prune(now time.Time, maxAge time.Duration) error {
	c.mu.Lock()
	for id, n := range c.nodes {
		if now.Sub(n.LastSeen) > maxAge {
			delete(c.nodes, id)
		}
	}
	c.mu.Unlock()

	return c.Save(now)
}

// RecentlySeen returns every node last seen within the past window,
// newest first is not guaranteed — callers needing an order should sort.
// Used by the onboarding startup scan.
func (c *Cache) RecentlySeen(now time.Time, window time.Duration) map[uint32]Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[uint32]Node)
	for id, n := range c.nodes {
		if now.Sub(n.LastSeen) <= window {
			out[id] = n
		}
	}
	return out
}

// Save writes the cache to disk atomically. Failures are returned to the
// caller but are expected to be logged and ignored, per spec's
// best-effort persistence contract.
func (c *Cache) Save(now time.Time) error {
	c.mu.Lock()
	doc := document{Nodes: make(map[string]Node, len(c.nodes)), LastUpdated: now}
	for id, n := range c.nodes {
		doc.Nodes[meshid.Format(id)] = n
	}
	c.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(c.path, b)
}
