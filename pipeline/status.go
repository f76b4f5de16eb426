package pipeline

import (
	"sync"

	"github.com/onnwee/commentcast/chat"
	"github.com/onnwee/commentcast/comment"
)

// StatusBoard keeps the latest status line per source and category.
type StatusBoard struct {
	mu       sync.RWMutex
	entries  map[comment.Source]map[string]string
	onChange func(chat.Status)
}

// NewStatusBoard returns an empty board. onChange, when set, is called after
// every update outside the board's lock.
func NewStatusBoard(onChange func(chat.Status)) *StatusBoard {
	return &StatusBoard{entries: make(map[comment.Source]map[string]string), onChange: onChange}
}

// Set records s.
func (b *StatusBoard) Set(s chat.Status) {
	b.mu.Lock()
	m := b.entries[s.Source]
	if m == nil {
		m = make(map[string]string)
		b.entries[s.Source] = m
	}
	m[s.Category] = s.Message
	b.mu.Unlock()
	if b.onChange != nil {
		b.onChange(s)
	}
}

// Get returns the latest message for a source and category.
func (b *StatusBoard) Get(src comment.Source, category string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries[src][category]
}

// Snapshot returns a copy of every entry.
func (b *StatusBoard) Snapshot() map[comment.Source]map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[comment.Source]map[string]string, len(b.entries))
	for src, m := range b.entries {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[src] = cp
	}
	return out
}

// Reset forgets every entry.
func (b *StatusBoard) Reset() {
	b.mu.Lock()
	b.entries = make(map[comment.Source]map[string]string)
	b.mu.Unlock()
}
