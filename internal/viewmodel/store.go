package viewmodel

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type envelope struct {
	event Event
	done  chan State
}

// Store applies events one at a time and fans new states out to subscribers
type Store struct {
	logger    zerolog.Logger
	events    chan envelope
	stopChan  chan struct{}
	exited    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.RWMutex
	state   State
	subs    map[int]chan State
	nextSub int

	// Stats
	applied int64
	dropped int64
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Applied     int64 `json:"applied"`
	Dropped     int64 `json:"dropped"`
	QueueLength int   `json:"queue_length"`
	Subscribers int   `json:"subscribers"`
}

// NewStore creates a store holding initial. Call Start to begin applying events.
func NewStore(initial State, queueSize int, logger zerolog.Logger) *Store {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Store{
		logger:   logger.With().Str("component", "viewmodel").Logger(),
		events:   make(chan envelope, queueSize),
		stopChan: make(chan struct{}),
		exited:   make(chan struct{}),
		state:    initial,
		subs:     make(map[int]chan State),
	}
}

// Start launches the event loop
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

func (s *Store) loop() {
	defer s.wg.Done()
	defer close(s.exited)
	for {
		select {
		case env := <-s.events:
			s.apply(env)
		case <-s.stopChan:
			for {
				select {
				case env := <-s.events:
					s.apply(env)
				default:
					s.logger.Info().Msg("View model store stopped")
					return
				}
			}
		}
	}
}

func (s *Store) apply(env envelope) {
	s.mu.Lock()
	next := Reduce(s.state, env.event)
	changed := next.Version != s.state.Version
	s.state = next
	s.applied++
	subs := make([]chan State, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	s.logger.Debug().Str("event", Name(env.event)).Uint64("version", next.Version).Msg("Applied event")

	if changed {
		for _, ch := range subs {
			offer(ch, next)
		}
	}
	if env.done != nil {
		env.done <- next
	}
}

// offer delivers the newest state, replacing an unread older one
func offer(ch chan State, st State) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Dispatch queues an event. Returns false if the store is stopped.
func (s *Store) Dispatch(e Event) bool {
	if s.stopped() {
		s.drop(e)
		return false
	}

	select {
	case s.events <- envelope{event: e}:
		return true
	case <-s.stopChan:
		return false
	}
}

// Apply queues an event and waits until it has been applied. After Stop
// the event is dropped and the current state returned.
func (s *Store) Apply(e Event) State {
	if s.stopped() {
		s.drop(e)
		return s.State()
	}

	done := make(chan State, 1)
	select {
	case s.events <- envelope{event: e, done: done}:
	case <-s.stopChan:
		return s.State()
	}

	select {
	case st := <-done:
		return st
	case <-s.exited:
		select {
		case st := <-done:
			return st
		default:
			s.drop(e)
			return s.State()
		}
	case <-time.After(5 * time.Second):
		s.logger.Warn().Str("event", Name(e)).Msg("Timed out waiting for event to apply")
		return s.State()
	}
}

func (s *Store) stopped() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Store) drop(e Event) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	s.logger.Warn().Str("event", Name(e)).Msg("Store stopped, dropping event")
}

// State returns the current state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel receiving every new state. Slow readers only
// see the newest one. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Stop applies queued events and stops the loop
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
}

// Stats returns current store statistics
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Applied:     s.applied,
		Dropped:     s.dropped,
		QueueLength: len(s.events),
		Subscribers: len(s.subs),
	}
}
