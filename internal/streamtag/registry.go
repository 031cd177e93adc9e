// Package streamtag enforces the at-most-one-write-context-per-stream-tag
// invariant process-wide for each data file name, mirroring the reference
// implementation's global current_stream_tags set.
package streamtag

import "sync"

// Registry tracks which stream tags currently have an open write
// context, scoped per data file name so two different nanots files can
// each write the same stream tag concurrently.
type Registry struct {
	mu     sync.Mutex
	active map[string]map[string]struct{}
}

var global = &Registry{active: make(map[string]map[string]struct{})}

// Global returns the process-wide registry. A single global instance is
// intentional here: the invariant it enforces ("no two write contexts
// for the same stream tag") must hold across every Writer in the
// process, not just within one.
func Global() *Registry { return global }

// Acquire claims fileName/streamTag for the caller. It returns false if
// the tag is already active for that file.
func (r *Registry) Acquire(fileName, streamTag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tags, ok := r.active[fileName]
	if !ok {
		tags = make(map[string]struct{})
		r.active[fileName] = tags
	}
	if _, taken := tags[streamTag]; taken {
		return false
	}
	tags[streamTag] = struct{}{}
	return true
}

// Release frees fileName/streamTag, allowing a new write context to
// claim it.
func (r *Registry) Release(fileName, streamTag string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tags, ok := r.active[fileName]
	if !ok {
		return
	}
	delete(tags, streamTag)
	if len(tags) == 0 {
		delete(r.active, fileName)
	}
}
