package bfd

// This file implements the BFD Finite State Machine (RFC 5880 Section 6.2,
// Section 6.8.6). The FSM is a pure function over a transition table. It
// has no Session dependency; the caller executes the returned actions.
//
// State diagram (RFC 5880 Section 6.2):
//
//                          +--+
//                          |  | UP, ADMIN DOWN, TIMER
//                          |  V
//                  DOWN  +------+  INIT
//           +------------|      |------------+
//           |            | DOWN |            |
//           |  +-------->|      |<--------+  |
//           |  |         +------+         |  |
//           |  |                          |  |
//           |  |               ADMIN DOWN,|  |
//           |  |ADMIN DOWN,          DOWN,|  |
//           |  |TIMER                TIMER|  |
//           V  |                          |  V
//         +------+                      +------+
//    +----|      |                      |      |----+
// DOWN    | INIT |--------------------->|  UP  |    INIT, UP
//    +--->|      | INIT, UP             |      |<---+
//         +------+                      +------+
//
// Down + recv Up is treated like Down + recv Init and goes straight to Up.

// Event is an input to the FSM.
type Event uint8

const (
	// EventRecvAdminDown is a received packet with State = AdminDown.
	EventRecvAdminDown Event = iota

	// EventRecvDown is a received packet with State = Down.
	EventRecvDown

	// EventRecvInit is a received packet with State = Init.
	EventRecvInit

	// EventRecvUp is a received packet with State = Up.
	EventRecvUp

	// EventDetectionTimeout is the detection timer expiring without a
	// valid packet (RFC 5880 Section 6.8.4).
	EventDetectionTimeout

	// EventAdminDown is a local request to disable the session
	// (RFC 5880 Section 6.8.16).
	EventAdminDown

	// EventAdminUp is a local request to re-enable the session.
	EventAdminUp
)

// String returns the name of the event.
func (e Event) String() string {
	switch e {
	case EventRecvAdminDown:
		return "RecvAdminDown"
	case EventRecvDown:
		return "RecvDown"
	case EventRecvInit:
		return "RecvInit"
	case EventRecvUp:
		return "RecvUp"
	case EventDetectionTimeout:
		return "DetectionTimeout"
	case EventAdminDown:
		return "AdminDown"
	case EventAdminUp:
		return "AdminUp"
	default:
		return "Unknown"
	}
}

// Action is a side effect the caller must perform after a transition.
type Action uint8

const (
	// ActionStartTransmit (re)starts periodic transmission.
	ActionStartTransmit Action = iota + 1

	// ActionStopTransmit cancels periodic transmission.
	ActionStopTransmit

	// ActionSendControl transmits one Control packet immediately
	// (RFC 5880 Section 6.8.7).
	ActionSendControl

	// ActionRearmDetect arms the detection timer from the current
	// negotiated values.
	ActionRearmDetect

	// ActionCancelDetect disarms the detection timer.
	ActionCancelDetect

	// ActionEvaluateDemand re-evaluates whether demand mode may become
	// active now that the session is Up.
	ActionEvaluateDemand

	// ActionResetRemote forgets the learned remote discriminator and the
	// peer's demand flag (RFC 5880 Section 6.8.1: bfd.RemoteDiscr is reset
	// when the session goes down).
	ActionResetRemote

	// ActionNotifyUp signals consumers that the session reached Up.
	ActionNotifyUp

	// ActionNotifyDown signals consumers that the session left Up or Init.
	ActionNotifyDown
)

// String returns the name of the action.
func (a Action) String() string {
	switch a {
	case ActionStartTransmit:
		return "StartTransmit"
	case ActionStopTransmit:
		return "StopTransmit"
	case ActionSendControl:
		return "SendControl"
	case ActionRearmDetect:
		return "RearmDetect"
	case ActionCancelDetect:
		return "CancelDetect"
	case ActionEvaluateDemand:
		return "EvaluateDemand"
	case ActionResetRemote:
		return "ResetRemote"
	case ActionNotifyUp:
		return "NotifyUp"
	case ActionNotifyDown:
		return "NotifyDown"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state, diagnostic and side effects for
// one table entry.
type transition struct {
	newState State
	setDiag  bool
	diag     Diag
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event. Equal to OldState when the
	// event is ignored or is a self-loop.
	NewState State

	// SetDiag reports whether the caller must overwrite bfd.LocalDiag
	// with Diag.
	SetDiag bool

	// Diag is the diagnostic to record when SetDiag is true.
	Diag Diag

	// Actions lists the side effects in execution order.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// downActions are shared by every transition from Init or Up to Down. The
// Down packet goes out before the remote discriminator is forgotten so the
// peer can still demultiplex it by Your Discriminator.
//
//nolint:gochecknoglobals // shared immutable action list.
var downActions = []Action{ActionCancelDetect, ActionStartTransmit, ActionSendControl, ActionResetRemote, ActionNotifyDown}

// adminDownActions are shared by every transition into AdminDown.
//
//nolint:gochecknoglobals // shared immutable action list.
var adminDownActions = []Action{ActionCancelDetect, ActionStopTransmit, ActionSendControl, ActionResetRemote}

// fsmTable is the complete transition table. Unlisted pairs are ignored;
// in particular AdminDown discards every received packet and Down ignores
// AdminDown from the peer and detection timeouts.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// AdminDown.
	{StateAdminDown, EventAdminUp}: {
		newState: StateDown,
		setDiag:  true,
		diag:     DiagNone,
		actions:  []Action{ActionStartTransmit},
	},

	// Down.
	{StateDown, EventRecvDown}: {
		newState: StateInit,
		actions:  []Action{ActionRearmDetect, ActionSendControl},
	},
	{StateDown, EventRecvInit}: {
		newState: StateUp,
		actions:  []Action{ActionEvaluateDemand, ActionRearmDetect, ActionSendControl, ActionNotifyUp},
	},
	{StateDown, EventRecvUp}: {
		newState: StateUp,
		actions:  []Action{ActionEvaluateDemand, ActionRearmDetect, ActionSendControl, ActionNotifyUp},
	},
	{StateDown, EventAdminDown}: {
		newState: StateAdminDown,
		setDiag:  true,
		diag:     DiagAdministrativelyDown,
		actions:  adminDownActions,
	},

	// Init.
	{StateInit, EventRecvAdminDown}: {
		newState: StateDown,
		setDiag:  true,
		diag:     DiagNeighborSignaledDown,
		actions:  downActions,
	},
	{StateInit, EventRecvDown}: {
		newState: StateInit,
	},
	{StateInit, EventRecvInit}: {
		newState: StateUp,
		actions:  []Action{ActionEvaluateDemand, ActionRearmDetect, ActionSendControl, ActionNotifyUp},
	},
	{StateInit, EventRecvUp}: {
		newState: StateUp,
		actions:  []Action{ActionEvaluateDemand, ActionRearmDetect, ActionSendControl, ActionNotifyUp},
	},
	{StateInit, EventDetectionTimeout}: {
		newState: StateDown,
		setDiag:  true,
		diag:     DiagControlDetectionTimeExpired,
		actions:  downActions,
	},
	{StateInit, EventAdminDown}: {
		newState: StateAdminDown,
		setDiag:  true,
		diag:     DiagAdministrativelyDown,
		actions:  adminDownActions,
	},

	// Up.
	{StateUp, EventRecvAdminDown}: {
		newState: StateDown,
		setDiag:  true,
		diag:     DiagNeighborSignaledDown,
		actions:  downActions,
	},
	{StateUp, EventRecvDown}: {
		newState: StateDown,
		setDiag:  true,
		diag:     DiagNeighborSignaledDown,
		actions:  downActions,
	},
	{StateUp, EventRecvInit}: {
		newState: StateUp,
	},
	{StateUp, EventRecvUp}: {
		newState: StateUp,
	},
	{StateUp, EventDetectionTimeout}: {
		newState: StateDown,
		setDiag:  true,
		diag:     DiagControlDetectionTimeExpired,
		actions:  downActions,
	},
	{StateUp, EventAdminDown}: {
		newState: StateAdminDown,
		setDiag:  true,
		diag:     DiagAdministrativelyDown,
		actions:  adminDownActions,
	},
}

// ApplyEvent applies event to currentState and returns the result.
//
// Pure function: the caller sets the diagnostic, executes actions and emits
// notifications. Pairs with no table entry return Changed=false, no
// actions and SetDiag=false.
func ApplyEvent(currentState State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		SetDiag:  tr.setDiag,
		Diag:     tr.diag,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}

// RecvStateToEvent maps the State field of a received packet to the
// corresponding FSM event.
func RecvStateToEvent(remoteState State) Event {
	switch remoteState {
	case StateAdminDown:
		return EventRecvAdminDown
	case StateDown:
		return EventRecvDown
	case StateInit:
		return EventRecvInit
	case StateUp:
		return EventRecvUp
	default:
		// Unreachable for decoded packets: State is two bits wide.
		return EventRecvDown
	}
}
