package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StreamState is a phase of one chat stream request.
type StreamState string

const (
	StateInit                 StreamState = "init"
	StateConversationResolved StreamState = "conversation_resolved"
	StateUserMessagePersisted StreamState = "user_message_persisted"
	StateStreaming            StreamState = "streaming"
	StateCompleted            StreamState = "completed"
	StateFailed               StreamState = "failed"
)

// StreamOutcome is how a stream ended from the client's point of view.
type StreamOutcome string

const (
	OutcomeCompleted    StreamOutcome = "completed"
	OutcomeFailed       StreamOutcome = "failed"
	OutcomeDisconnected StreamOutcome = "disconnected"
)

// validTransitions defines the allowed state transitions.
// Key = from state, Value = set of allowed target states.
var validTransitions = map[StreamState]map[StreamState]bool{
	StateInit: {
		StateConversationResolved: true,
		StateFailed:               true,
	},
	StateConversationResolved: {
		StateUserMessagePersisted: true,
		StateFailed:               true,
	},
	StateUserMessagePersisted: {
		StateStreaming: true,
		StateFailed:    true,
	},
	StateStreaming: {
		StateCompleted: true,
		StateFailed:    true,
	},
	// Terminal states
	StateCompleted: {},
	StateFailed:    {},
}

// StateSnapshot captures a stream's progress at a point in time.
type StateSnapshot struct {
	State          StreamState   `json:"state"`
	ConversationID uint          `json:"conversation_id,omitempty"`
	Events         int           `json:"events"`
	Bytes          int           `json:"bytes"`
	Elapsed        time.Duration `json:"elapsed"`
}

// StateMachine tracks the phase of a single chat stream. One request owns
// one machine; it is not shared between goroutines.
type StateMachine struct {
	state          StreamState
	conversationID uint
	events         int
	bytes          int
	startTime      time.Time
	logger         *zap.Logger

	listeners []func(from, to StreamState, snap StateSnapshot)
}

// NewStateMachine creates a state machine starting in Init.
func NewStateMachine(logger *zap.Logger) *StateMachine {
	return &StateMachine{
		state:     StateInit,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state.
func (sm *StateMachine) State() StreamState { return sm.state }

// Snapshot returns a copy of the current progress.
func (sm *StateMachine) Snapshot() StateSnapshot {
	return StateSnapshot{
		State:          sm.state,
		ConversationID: sm.conversationID,
		Events:         sm.events,
		Bytes:          sm.bytes,
		Elapsed:        time.Since(sm.startTime),
	}
}

// Transition moves to a new state, or returns an error if the move is not
// allowed from the current one.
func (sm *StateMachine) Transition(to StreamState) error {
	from := sm.state
	if !validTransitions[from][to] {
		err := fmt.Errorf("invalid state transition: %s → %s", from, to)
		sm.logger.Error("State machine violation", zap.Error(err))
		return err
	}
	sm.state = to
	snap := sm.Snapshot()

	sm.logger.Debug("State transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Uint("conversation_id", sm.conversationID),
	)
	for _, fn := range sm.listeners {
		fn(from, to, snap)
	}
	return nil
}

// OnTransition registers a listener called on every state change.
func (sm *StateMachine) OnTransition(fn func(from, to StreamState, snap StateSnapshot)) {
	sm.listeners = append(sm.listeners, fn)
}

// SetConversation records the resolved conversation.
func (sm *StateMachine) SetConversation(id uint) { sm.conversationID = id }

// RecordEvent counts a relayed event of n text bytes.
func (sm *StateMachine) RecordEvent(n int) {
	sm.events++
	sm.bytes += n
}

// IsTerminal returns true if the stream has completed or failed.
func (sm *StateMachine) IsTerminal() bool {
	return sm.state == StateCompleted || sm.state == StateFailed
}
