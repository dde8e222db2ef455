package oracle

// verdictCache is a bounded verdict memo. Eviction is strictly by insertion
// order: when full, the oldest-inserted entry goes first, regardless of use.
type verdictCache struct {
	max     int
	order   []string
	entries map[string]Verdict
}

func newVerdictCache(max int) *verdictCache {
	if max <= 0 {
		max = 500
	}
	return &verdictCache{max: max, entries: make(map[string]Verdict)}
}

func (c *verdictCache) get(key string) (Verdict, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *verdictCache) put(key string, v Verdict) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = v
		return
	}
	for len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, key)
	c.entries[key] = v
}

func (c *verdictCache) len() int { return len(c.entries) }

// cacheSnapshot is the persisted form.
type cacheSnapshot struct {
	Order   []string           `json:"order"`
	Entries map[string]Verdict `json:"entries"`
}

func (c *verdictCache) snapshot() cacheSnapshot {
	return cacheSnapshot{Order: append([]string(nil), c.order...), Entries: c.entries}
}

func (c *verdictCache) restore(s cacheSnapshot) {
	c.order = c.order[:0]
	c.entries = make(map[string]Verdict, len(s.Entries))
	for _, key := range s.Order {
		v, ok := s.Entries[key]
		if !ok {
			continue
		}
		if len(c.entries) >= c.max {
			break
		}
		c.order = append(c.order, key)
		c.entries[key] = v
	}
}
