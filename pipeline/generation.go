// Package pipeline runs a comment session: it wires the source adapters to
// the presentation and translation queues and drives the two scheduler loops
// that drain them.
package pipeline

import "sync/atomic"

// RunGeneration identifies the active run. Every loop captures the value
// current when it started and exits once it no longer matches.
type RunGeneration struct {
	n atomic.Uint64
}

// Current returns the active generation.
func (g *RunGeneration) Current() uint64 { return g.n.Load() }

// Next invalidates every loop of the current generation and returns the new one.
func (g *RunGeneration) Next() uint64 { return g.n.Add(1) }

// Alive reports whether id is still the active generation.
func (g *RunGeneration) Alive(id uint64) bool { return g.n.Load() == id }
