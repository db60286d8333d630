// Package session holds the Session value type and its state machine.
// Persistence lives in store.go.
package session

import (
	"errors"
	"fmt"
	"time"
)

// State is a Session's position in its state machine.
type State string

const (
	StateCreated    State = "CREATED"
	StateActive     State = "ACTIVE"
	StateSuspended  State = "SUSPENDED"
	StateTerminated State = "TERMINATED"
)

// ErrInvalidTransition is a programming bug: the caller attempted a
// transition the state machine does not allow.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// Session is the external provider's conversation: durable, opaque state
// behind a small state machine.
type Session struct {
	ID            string
	State         State
	ProviderName  string
	Model         string
	CreatedAt     time.Time
	SuspendedAt   *time.Time
	ProviderState []byte
}

// New constructs a freshly-minted session in CREATED state.
func New(id, providerName, model string) *Session {
	return &Session{
		ID:           id,
		State:        StateCreated,
		ProviderName: providerName,
		Model:        model,
		CreatedAt:    time.Now().UTC(),
	}
}

// Activate transitions CREATED->ACTIVE or SUSPENDED->ACTIVE, clearing the
// suspension timestamp.
func (s *Session) Activate() error {
	switch s.State {
	case StateCreated, StateSuspended:
		s.State = StateActive
		s.SuspendedAt = nil
		return nil
	default:
		return fmt.Errorf("%w: %s -> ACTIVE", ErrInvalidTransition, s.State)
	}
}

// Suspend transitions ACTIVE->SUSPENDED, recording the provider's opaque
// state blob and the suspension timestamp.
func (s *Session) Suspend(state []byte) error {
	if s.State != StateActive {
		return fmt.Errorf("%w: %s -> SUSPENDED", ErrInvalidTransition, s.State)
	}
	now := time.Now().UTC()
	s.State = StateSuspended
	s.SuspendedAt = &now
	s.ProviderState = state
	return nil
}

// Terminate transitions ACTIVE or SUSPENDED into the absorbing TERMINATED
// state.
func (s *Session) Terminate() error {
	switch s.State {
	case StateActive, StateSuspended:
		s.State = StateTerminated
		return nil
	case StateTerminated:
		return nil
	default:
		return fmt.Errorf("%w: %s -> TERMINATED", ErrInvalidTransition, s.State)
	}
}
