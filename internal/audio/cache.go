// Package audio owns the sounds a reveal plays: a cache of fetched custom
// clips and a player holding one playback per category.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the load state of a cached clip.
type State int

const (
	Unknown State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const fetchTimeout = 15 * time.Second

// Fetcher downloads clip bytes.
type Fetcher interface {
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

type entry struct {
	state State
	data  []byte
	done  chan struct{}
}

// Cache loads each URL at most once. A failed URL stays failed and plays the
// built-in sound instead.
type Cache struct {
	mu      sync.Mutex
	fetch   Fetcher
	entries map[string]*entry
	logger  *slog.Logger
}

func NewCache(fetch Fetcher, logger *slog.Logger) *Cache {
	return &Cache{fetch: fetch, entries: make(map[string]*entry), logger: logger}
}

// EnsureLoaded starts loading url if nothing has and returns its state
// without waiting. An empty url is Failed: there is nothing to load.
func (c *Cache) EnsureLoaded(ctx context.Context, url string) State {
	if url == "" {
		return Failed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok {
		return e.state
	}
	e := &entry{state: Loading, done: make(chan struct{})}
	c.entries[url] = e
	go c.load(context.WithoutCancel(ctx), url, e)
	return Loading
}

func (c *Cache) load(ctx context.Context, url string, e *entry) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	data, err := c.fetch.FetchAudio(ctx, url)

	c.mu.Lock()
	if err != nil || len(data) == 0 {
		e.state = Failed
		c.logger.Debug("audio preload failed", "url", url, "error", err)
	} else {
		e.state = Ready
		e.data = data
	}
	c.mu.Unlock()
	close(e.done)
}

// Wait blocks until url leaves Loading or ctx ends.
func (c *Cache) Wait(ctx context.Context, url string) State {
	c.mu.Lock()
	e, ok := c.entries[url]
	c.mu.Unlock()
	if !ok {
		return Unknown
	}
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return c.State(url)
}

func (c *Cache) State(url string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok {
		return e.state
	}
	return Unknown
}

// Clip is what a player hands to its sink.
type Clip struct {
	Category Category
	URL      string
	Data     []byte
	// Default is set when the built-in sound stands in for url.
	Default bool
}

// Resolve returns the cached clip for url, or the category's built-in sound
// when url is empty, still loading or failed.
func (c *Cache) Resolve(cat Category, url string) Clip {
	if url != "" {
		c.mu.Lock()
		e, ok := c.entries[url]
		c.mu.Unlock()
		if ok && e.state == Ready {
			return Clip{Category: cat, URL: url, Data: e.data}
		}
	}
	return Clip{Category: cat, URL: url, Default: true}
}
