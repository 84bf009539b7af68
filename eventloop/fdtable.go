package eventloop

// fdTable is a direct-indexed registration table, grown on demand.
//
// Thread Safety: NOT thread-safe, callers hold the owning selector's mutex.
type fdTable struct {
	keys []*SelectorKey
	n    int
}

func (t *fdTable) get(fd int) *SelectorKey {
	if fd < 0 || fd >= len(t.keys) {
		return nil
	}
	return t.keys[fd]
}

// put stores key at fd, returning false if fd is already occupied.
func (t *fdTable) put(fd int, key *SelectorKey) bool {
	if fd >= len(t.keys) {
		// Grow in chunks to minimize allocations
		newSize := fd*2 + 1
		if newSize < maxFDs {
			newSize = maxFDs
		}
		if newSize > MaxFDLimit {
			newSize = MaxFDLimit + 1
		}
		keys := make([]*SelectorKey, newSize)
		copy(keys, t.keys)
		t.keys = keys
	}
	if t.keys[fd] != nil {
		return false
	}
	t.keys[fd] = key
	t.n++
	return true
}

// replace overwrites an occupied slot.
func (t *fdTable) replace(fd int, key *SelectorKey) {
	t.keys[fd] = key
}

func (t *fdTable) del(fd int) *SelectorKey {
	key := t.get(fd)
	if key != nil {
		t.keys[fd] = nil
		t.n--
	}
	return key
}

func (t *fdTable) snapshot() []*SelectorKey {
	out := make([]*SelectorKey, 0, t.n)
	for _, key := range t.keys {
		if key != nil {
			out = append(out, key)
			if len(out) == t.n {
				break
			}
		}
	}
	return out
}

func (t *fdTable) reset() {
	t.keys = nil
	t.n = 0
}
