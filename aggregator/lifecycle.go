package aggregator

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/nsroll/rollerrors"
)

type Status uint8

const (
	StatusPending Status = iota
	StatusProving
	StatusMerging
	StatusVerified
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusProving:
		return "PROVING"
	case StatusMerging:
		return "MERGING"
	case StatusVerified:
		return "VERIFIED"
	case StatusSettled:
		return "SETTLED"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusProving},
	StatusProving:  {StatusMerging, StatusPending},
	StatusMerging:  {StatusVerified, StatusPending},
	StatusVerified: {StatusSettled, StatusPending},
}

// Lifecycle tracks a batch (or a vote) through
// PENDING -> PROVING -> MERGING -> VERIFIED -> SETTLED. Any failure before
// settlement returns it to PENDING; SETTLED is terminal.
type Lifecycle struct {
	mu       sync.Mutex
	status   Status
	attempts int
	history  []Status
}

func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Attempts counts how many times proving was started.
func (l *Lifecycle) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// History lists every status entered, in order, starting after PENDING.
func (l *Lifecycle) History() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.history...)
}

func (l *Lifecycle) Advance(to Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusSettled {
		return rollerrors.ErrBatchAlreadyFinal
	}
	for _, s := range allowedTransitions[l.status] {
		if s == to {
			l.status = to
			l.history = append(l.history, to)
			if to == StatusProving {
				l.attempts++
			}
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", l.status, to, rollerrors.ErrInvalidStatus)
}

// Fail returns an unsettled lifecycle to PENDING.
func (l *Lifecycle) Fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusSettled || l.status == StatusPending {
		return
	}
	l.status = StatusPending
	l.history = append(l.history, StatusPending)
}
