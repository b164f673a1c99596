package metavault

import (
	"math/rand"
)

// Entry is the attribute bag associated with one key: a mapping from
// attribute name to a scalar or structured value. A nil value means "no
// value recorded for this attribute on this key", which is distinct from
// the attribute column not existing at all.
type Entry map[string]any

// Collection is an ordered, in-memory mapping from key to Entry, produced
// by dataset reads or constructed directly. It holds copies of the stored
// entries; mutating a collection never touches storage unless the entries
// are explicitly written back through a Dataset.
//
// Within one collection all keys are distinct. Insertion order is
// preserved; setting an existing key replaces its entry in place.
type Collection struct {
	keys    []string
	entries map[string]Entry
	logger  Logger
}

// NewCollection creates an empty collection
func NewCollection() *Collection {
	return &Collection{
		entries: make(map[string]Entry),
		logger:  NopLogger(),
	}
}

// SetLogger sets the logger used for non-fatal reporting
func (c *Collection) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Set inserts or replaces the entry for key. A replaced key keeps its
// original position in the iteration order.
func (c *Collection) Set(key string, entry Entry) {
	if _, exists := c.entries[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = entry
}

// Get returns the entry for key
func (c *Collection) Get(key string) (Entry, bool) {
	entry, ok := c.entries[key]
	return entry, ok
}

// Delete removes the entry for key, reporting whether it was present
func (c *Collection) Delete(key string) bool {
	if _, exists := c.entries[key]; !exists {
		return false
	}
	delete(c.entries, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether key is present
func (c *Collection) Contains(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of entries
func (c *Collection) Len() int {
	return len(c.keys)
}

// IsEmpty reports whether the collection has no entries
func (c *Collection) IsEmpty() bool {
	return len(c.keys) == 0
}

// Keys returns the keys in insertion order
func (c *Collection) Keys() []string {
	keys := make([]string, len(c.keys))
	copy(keys, c.keys)
	return keys
}

// Entries returns the attribute bags in insertion order
func (c *Collection) Entries() []Entry {
	entries := make([]Entry, 0, len(c.keys))
	for _, key := range c.keys {
		entries = append(entries, c.entries[key])
	}
	return entries
}

// AsMap returns the underlying key to entry mapping. The returned map
// shares entries with the collection.
func (c *Collection) AsMap() map[string]Entry {
	m := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		m[k] = v
	}
	return m
}

// SubsetByKey returns a new collection containing exactly the given keys
// that are present; keys not found are silently omitted.
func (c *Collection) SubsetByKey(keys []string) *Collection {
	subset := NewCollection()
	subset.logger = c.logger
	for _, key := range keys {
		if entry, ok := c.entries[key]; ok {
			subset.Set(key, entry)
		}
	}
	return subset
}

// SubsetByAmount returns a new collection of up to amount entries taken
// from the ordered key sequence starting at start. With reverse set, the
// slice is taken from the end of the sequence instead (the last amount
// entries, start positions from the end), preserving forward key order
// in the result.
func (c *Collection) SubsetByAmount(amount, start int, reverse bool) *Collection {
	var begin, end int
	if reverse {
		end = len(c.keys) - start
		begin = end - amount
	} else {
		begin = start
		end = start + amount
	}
	if begin < 0 {
		begin = 0
	}
	if end > len(c.keys) {
		end = len(c.keys)
	}
	if begin >= end {
		sub := NewCollection()
		sub.logger = c.logger
		return sub
	}
	return c.SubsetByKey(c.keys[begin:end])
}

// SubsetByRandom returns a uniform sample without replacement of amount
// distinct keys. It fails with ErrSampleTooLarge when amount exceeds the
// collection size.
func (c *Collection) SubsetByRandom(amount int) (*Collection, error) {
	if amount < 0 || amount > len(c.keys) {
		return nil, wrapError("subset_by_random", ErrSampleTooLarge)
	}
	perm := rand.Perm(len(c.keys))
	keys := make([]string, 0, amount)
	for _, i := range perm[:amount] {
		keys = append(keys, c.keys[i])
	}
	return c.SubsetByKey(keys), nil
}

// Merge folds every entry of other into the receiver. The merge is
// right-biased: for keys present in both, the other collection's entry
// wins entirely (whole-entry replace, not per-attribute merge).
func (c *Collection) Merge(other *Collection) {
	for _, key := range other.keys {
		c.Set(key, other.entries[key])
	}
}

// RemoveItems removes each given key if present. Keys not found are
// non-fatal: they are logged, skipped and returned.
func (c *Collection) RemoveItems(keys []string) (missing []string) {
	for _, key := range keys {
		if !c.Delete(key) {
			c.logger.Warn("key not found in collection", "key", key)
			missing = append(missing, key)
		}
	}
	return missing
}

// Truncate returns a new collection with the first amount entries
func (c *Collection) Truncate(amount int) *Collection {
	return c.SubsetByAmount(amount, 0, false)
}
