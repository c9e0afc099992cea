package synth

import "sync"

// Cache defaults. Keys are a bounded prefix of the request text so one
// pathological long utterance can't blow the key space.
const (
	DefaultCacheCapacity  = 32
	DefaultCachePrefixLen = 64
)

// clipCache caches decoded clips keyed by a bounded-length prefix of the
// text. Capacity-capped; the oldest insertion is evicted first.
type clipCache struct {
	mu        sync.Mutex
	capacity  int
	prefixLen int
	order     []string
	clips     map[string]*Clip
}

func newClipCache(capacity, prefixLen int) *clipCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if prefixLen <= 0 {
		prefixLen = DefaultCachePrefixLen
	}
	return &clipCache{
		capacity:  capacity,
		prefixLen: prefixLen,
		clips:     make(map[string]*Clip),
	}
}

func (c *clipCache) key(text string) string {
	if len(text) > c.prefixLen {
		return text[:c.prefixLen]
	}
	return text
}

func (c *clipCache) get(text string) (*Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip, ok := c.clips[c.key(text)]
	return clip, ok
}

func (c *clipCache) put(text string, clip *Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.key(text)
	if _, exists := c.clips[key]; exists {
		c.clips[key] = clip
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.clips, oldest)
	}
	c.order = append(c.order, key)
	c.clips[key] = clip
}

func (c *clipCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}
