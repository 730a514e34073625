package journal

import "sync"

// Memory keeps the most recent entries in a fixed ring.
type Memory struct {
	mu     sync.RWMutex
	items  []Entry
	next   int
	full   bool
	lastID int64
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{items: make([]Entry, capacity)}
}

func (m *Memory) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	e.ID = m.lastID
	m.items[m.next] = e
	m.next = (m.next + 1) % len(m.items)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *Memory) Recent(limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.next
	if m.full {
		n = len(m.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + len(m.items)) % len(m.items)
		out = append(out, m.items[idx])
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
