package api

import (
	"context"
	"sync"

	"github.com/nerrad567/soundmesh-core/internal/speaker"
)

// Speaker is the view of a device handle the API layer needs. Satisfied
// by *speaker.Handle; tests substitute fakes.
type Speaker interface {
	ID() string
	Address() string
	Attributes() speaker.Attributes
	ConnectionState() speaker.ConnectionState
	IsConnected() bool
	Stats() speaker.Stats
	Subscribe(fn speaker.Subscriber) int
	Unsubscribe(id int)
	SetVolume(ctx context.Context, volume int) error
	SetMuted(ctx context.Context, muted bool) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
}

// Directory is an ordered, concurrency-safe lookup of the speakers the
// API serves. Insertion order is preserved so listings are stable.
type Directory struct {
	mu       sync.RWMutex
	order    []string
	speakers map[string]Speaker
}

// NewDirectory creates an empty speaker directory.
func NewDirectory() *Directory {
	return &Directory{speakers: make(map[string]Speaker)}
}

// Add registers a speaker under its own ID. Re-adding an existing ID
// replaces the entry but keeps its position.
func (d *Directory) Add(sp Speaker) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := sp.ID()
	if _, exists := d.speakers[id]; !exists {
		d.order = append(d.order, id)
	}
	d.speakers[id] = sp
}

// Get returns the speaker for an ID.
func (d *Directory) Get(id string) (Speaker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sp, ok := d.speakers[id]
	return sp, ok
}

// IDs returns all speaker IDs in insertion order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Len returns the number of registered speakers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.speakers)
}
