package transport

import "sync/atomic"

// Link is the process-wide "network is up" signal. One writer (the link
// monitor) and any number of readers.
type Link struct {
	up atomic.Bool
}

func NewLink(up bool) *Link {
	l := &Link{}
	l.up.Store(up)
	return l
}

func (l *Link) Up() bool {
	return l.up.Load()
}

// Set stores v and reports whether the value changed.
func (l *Link) Set(v bool) bool {
	return l.up.Swap(v) != v
}
