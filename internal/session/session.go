// Package session tracks the per-operator broadcast conversation.
package session

import (
	"sync"
	"time"

	"relaybot/internal/segment"
)

// Step is where an operator is in the broadcast conversation.
type Step int

const (
	StepIdle Step = iota
	// StepSelectingAudience waits for a segment choice from the menu.
	StepSelectingAudience
	// StepAwaitingWindow waits for a typed window ("2w") or custom limit.
	StepAwaitingWindow
	// StepAwaitingContent waits for the message text or photo.
	StepAwaitingContent
	// StepPreviewing has echoed the content and waits for confirm/edit.
	StepPreviewing
	// StepConfiguringPacing waits for a start-delay choice.
	StepConfiguringPacing
	// StepReady waits for the final confirmation.
	StepReady
	// StepDispatching means a fan-out is running for this operator.
	StepDispatching
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepSelectingAudience:
		return "selecting_audience"
	case StepAwaitingWindow:
		return "awaiting_window"
	case StepAwaitingContent:
		return "awaiting_content"
	case StepPreviewing:
		return "previewing"
	case StepConfiguringPacing:
		return "configuring_pacing"
	case StepReady:
		return "ready"
	case StepDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

// Content is the message to fan out. A nonempty PhotoID makes it an
// image send with Text as caption; otherwise Text is the whole message.
type Content struct {
	Text    string
	PhotoID string
}

func (c Content) Empty() bool { return c.Text == "" && c.PhotoID == "" }

// Session is one operator's in-flight broadcast setup.
type Session struct {
	OperatorID int64
	Step       Step
	Segment    segment.Spec
	Content    *Content
	Targets    []int64
	// Pacing is the delay between deliveries. Zero means no extra
	// delay; negative leaves the dispatcher's configured default.
	Pacing     time.Duration
	StartDelay time.Duration
	UpdatedAt  time.Time
}

// ResetContent returns the session to content capture for an edit,
// keeping the resolved audience and pacing choice.
func (s *Session) ResetContent() {
	s.Content = nil
	s.Step = StepAwaitingContent
}

// Store holds live sessions keyed by operator ID. All methods are safe
// for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Get returns the operator's session, or nil if none is active.
func (st *Store) Get(operatorID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[operatorID]
}

// Put stores or replaces the operator's session.
func (st *Store) Put(s *Session) {
	if s == nil {
		return
	}
	s.UpdatedAt = time.Now()
	st.mu.Lock()
	st.sessions[s.OperatorID] = s
	st.mu.Unlock()
}

func (st *Store) Delete(operatorID int64) {
	st.mu.Lock()
	delete(st.sessions, operatorID)
	st.mu.Unlock()
}

// Take removes and returns the operator's session in one step. A second
// Take (or a racing confirm) gets nil, so a session dispatches at most
// once.
func (st *Store) Take(operatorID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessions[operatorID]
	delete(st.sessions, operatorID)
	return s
}

// Len reports active session count, for shutdown logging.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
