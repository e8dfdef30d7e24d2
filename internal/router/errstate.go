package router

import (
	"sync"

	"legalchat/internal/types"
)

// ErrorState holds the single dismissible error shown to the user. Routing
// failures overwrite it; a successful widget-triggered dispatch or an
// explicit dismissal clears it. Relay-triggered dispatches never touch it.
type ErrorState struct {
	mu   sync.Mutex
	last *types.AppError
}

// Record stores err as the current visible error.
func (s *ErrorState) Record(err *types.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = err
}

// Clear removes the current visible error.
func (s *ErrorState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
}

// Last returns the current visible error, or nil when none is recorded.
func (s *ErrorState) Last() *types.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
