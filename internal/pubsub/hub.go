// Package pubsub delivers pushed sensor updates to per-sensor subscribers.
package pubsub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kirbo/go-sensormap/internal/models"
)

// Subscriber is implemented by every hub in this package.
type Subscriber interface {
	Subscribe(id string, onChange func(models.Sensor)) (func(), error)
}

// hub fans updates out to the handlers registered for a sensor id and drops
// payloads identical to the previous one for that id.
type hub struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]func(models.Sensor)
	seen     *cache.Cache
	logger   *slog.Logger
}

func newHub(logger *slog.Logger, dedupFor time.Duration) *hub {
	return &hub{
		handlers: make(map[string]map[uint64]func(models.Sensor)),
		seen:     cache.New(dedupFor, 2*dedupFor),
		logger:   logger,
	}
}

// Subscribe registers onChange for id and returns its unsubscribe function.
func (h *hub) Subscribe(id string, onChange func(models.Sensor)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	key := h.next
	if h.handlers[id] == nil {
		h.handlers[id] = make(map[uint64]func(models.Sensor))
	}
	h.handlers[id][key] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers[id], key)
			if len(h.handlers[id]) == 0 {
				delete(h.handlers, id)
			}
		})
	}, nil
}

// Subscribers returns how many handlers are registered for id.
func (h *hub) Subscribers(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[id])
}

func (h *hub) dispatch(id string, payload []byte, update models.Sensor) int {
	if prev, found := h.seen.Get(id); found && prev.(string) == string(payload) {
		return 0
	}
	h.seen.Set(id, string(payload), cache.DefaultExpiration)

	h.mu.RLock()
	fns := make([]func(models.Sensor), 0, len(h.handlers[id]))
	for _, fn := range h.handlers[id] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	update.ID = id
	for _, fn := range fns {
		fn(update.Clone())
	}
	return len(fns)
}

// Multi subscribes to several hubs at once.
type Multi []Subscriber

func (m Multi) Subscribe(id string, onChange func(models.Sensor)) (func(), error) {
	unsubs := make([]func(), 0, len(m))
	unsubscribe := func() {
		for _, u := range unsubs {
			u()
		}
	}

	for _, s := range m {
		u, err := s.Subscribe(id, onChange)
		if err != nil {
			unsubscribe()
			return nil, err
		}
		unsubs = append(unsubs, u)
	}
	return unsubscribe, nil
}
