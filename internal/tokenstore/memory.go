package tokenstore

import (
	"time"

	"funnel/pkg/logging"
)

// MemoryStore keeps the current token in process memory. Every operation is
// serialized through a single owner goroutine, so in-flight stores,
// retrievals and clears never interleave. Long work never happens inside the
// queue; the refresh callback runs on its own goroutine.
type MemoryStore struct {
	ops  chan func()
	done chan struct{}

	// Owned exclusively by the queue goroutine.
	token     *TokenData
	refreshCb func()
	timer     *time.Timer
}

// NewMemoryStore creates a store and starts its owner goroutine.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		ops:  make(chan func(), 16),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *MemoryStore) run() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.done:
			if s.timer != nil {
				s.timer.Stop()
			}
			return
		}
	}
}

// exec posts an operation to the queue and waits for it.
func (s *MemoryStore) exec(op func()) {
	doneCh := make(chan struct{})
	select {
	case s.ops <- func() { op(); close(doneCh) }:
		<-doneCh
	case <-s.done:
	}
}

// Store saves the token. Input is sanitized; an empty access token is
// rejected. When a refresh callback is registered, the timer is re-armed at
// expires_at minus the buffer.
func (s *MemoryStore) Store(token TokenData) error {
	clean, err := token.sanitize()
	if err != nil {
		return err
	}

	s.exec(func() {
		s.token = &clean
		s.armTimer()
	})
	return nil
}

// Retrieve returns a defensive copy of the current token, or nil.
func (s *MemoryStore) Retrieve() (*TokenData, error) {
	var out *TokenData
	s.exec(func() {
		if s.token != nil {
			copied := *s.token
			out = &copied
		}
	})
	return out, nil
}

// Clear drops the token and cancels the refresh timer.
func (s *MemoryStore) Clear() error {
	s.exec(func() {
		s.token = nil
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	})
	return nil
}

// IsExpired reports expiry with the default 5-minute buffer.
func (s *MemoryStore) IsExpired() bool {
	return s.IsExpiredWithin(DefaultExpiryBuffer)
}

// IsExpiredWithin reports whether no usable token is held within buffer.
func (s *MemoryStore) IsExpiredWithin(buffer time.Duration) bool {
	expired := true
	s.exec(func() {
		if s.token != nil {
			expired = s.token.expired(time.Now(), buffer)
		}
	})
	return expired
}

// ScheduleRefresh registers the proactive refresh callback. Subsequent
// stores (re)arm a timer at expires_at minus the buffer.
func (s *MemoryStore) ScheduleRefresh(cb func()) {
	s.exec(func() {
		s.refreshCb = cb
		s.armTimer()
	})
}

// armTimer (re)schedules the refresh timer for the current token. Runs on
// the queue goroutine.
func (s *MemoryStore) armTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.refreshCb == nil || s.token == nil || s.token.ExpiresAt.IsZero() {
		return
	}

	delay := time.Until(s.token.ExpiresAt.Add(-DefaultExpiryBuffer))
	if delay < 0 {
		delay = 0
	}
	cb := s.refreshCb
	s.timer = time.AfterFunc(delay, func() {
		logging.Debug("TokenStore", "Proactive refresh timer fired")
		cb()
	})
}

// Close stops the owner goroutine. The store is unusable afterwards.
func (s *MemoryStore) Close() {
	close(s.done)
}
