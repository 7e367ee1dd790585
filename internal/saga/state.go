// internal/saga/state.go
package saga

import "time"

// Status is the saga's position in the application-creation flow.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusUserLinked    Status = "USER_LINKED"
	StatusStatusCreated Status = "STATUS_CREATED"
	StatusCompleted     Status = "COMPLETED"
	StatusCompensating  Status = "COMPENSATING"
	StatusCompensated   Status = "COMPENSATED"
	StatusFailed        Status = "FAILED"
)

// Participant identifies which sibling service an acknowledgement came from.
type Participant string

const (
	ParticipantUser   Participant = "user"
	ParticipantStatus Participant = "status"
)

// State tracks which steps of the saga have completed for one receipt code.
// Acked flags are monotonic: once true they are never unset, which is what
// makes redelivered acknowledgements no-ops.
type State struct {
	ReceiptCode   int64
	Status        Status
	UserAcked     bool
	StatusAcked   bool
	FailureReason string
	UpdatedAt     time.Time
}

func NewState(receiptCode int64) *State {
	return &State{
		ReceiptCode: receiptCode,
		Status:      StatusPending,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Terminal reports whether the state permits no further mutation.
func (s *State) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusCompensated, StatusFailed:
		return true
	}
	return false
}

// Ack records a participant acknowledgement and advances the status. It
// returns false when the ack changes nothing: already acked, terminal, or the
// saga is compensating (failure wins over late success acks).
func (s *State) Ack(p Participant) bool {
	if s.Terminal() || s.Status == StatusCompensating {
		return false
	}

	switch p {
	case ParticipantUser:
		if s.UserAcked {
			return false
		}
		s.UserAcked = true
	case ParticipantStatus:
		if s.StatusAcked {
			return false
		}
		s.StatusAcked = true
	default:
		return false
	}

	s.advance()
	s.UpdatedAt = time.Now().UTC()
	return true
}

// Fail moves the saga to COMPENSATING. It returns false when the saga is
// already terminal or already compensating.
func (s *State) Fail(reason string) bool {
	if s.Terminal() || s.Status == StatusCompensating {
		return false
	}
	s.Status = StatusCompensating
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	return true
}

func (s *State) advance() {
	switch {
	case s.UserAcked && s.StatusAcked:
		s.Status = StatusCompleted
	case s.UserAcked:
		s.Status = StatusUserLinked
	case s.StatusAcked:
		s.Status = StatusStatusCreated
	}
}
