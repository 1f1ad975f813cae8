package session

import "time"

// armHeartbeat starts the idle timer. If no inbound frame arrives
// within idleTimeout, onExpire is invoked with CloseIdleTimeout.
func (s *Session) armHeartbeat(idleTimeout time.Duration, onExpire func(code uint16, reason string)) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.timer = time.AfterFunc(idleTimeout, func() {
		onExpire(CloseIdleTimeout, "idle timeout")
	})
}

// resetHeartbeat is called on every inbound frame to push the idle
// deadline back out.
func (s *Session) resetHeartbeat() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Reset(s.idleTimeout)
	}
}
