package services

import (
	"context"
	"sync"
)

// Coordinator serialises mutations of the same image across services and
// tracks ingestions that have not yet reached the store.
// Different images never contend.
type Coordinator struct {
	mu      sync.Mutex
	slots   map[string]*slot
	ingests map[string]int
}

// slot is a one-token semaphore shared by everyone waiting on an image.
type slot struct {
	token chan struct{}
	refs  int
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		slots:   make(map[string]*slot),
		ingests: make(map[string]int),
	}
}

// Lock acquires the per-image lock, giving up when ctx is done.
// The returned function releases it.
func (c *Coordinator) Lock(ctx context.Context, imageID string) (func(), error) {
	c.mu.Lock()
	s, ok := c.slots[imageID]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		c.slots[imageID] = s
	}
	s.refs++
	c.mu.Unlock()

	select {
	case s.token <- struct{}{}:
		return func() {
			<-s.token
			c.release(imageID, s)
		}, nil
	case <-ctx.Done():
		c.release(imageID, s)
		return nil, transient(ctx.Err())
	}
}

func (c *Coordinator) release(imageID string, s *slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(c.slots, imageID)
	}
}

// beginIngest marks an ingestion of imageID as in flight until the
// returned function is called.
func (c *Coordinator) beginIngest(imageID string) func() {
	c.mu.Lock()
	c.ingests[imageID]++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.ingests[imageID]--
		if c.ingests[imageID] == 0 {
			delete(c.ingests, imageID)
		}
	}
}

// ingesting reports whether an ingestion of imageID is in flight.
func (c *Coordinator) ingesting(imageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingests[imageID] > 0
}
