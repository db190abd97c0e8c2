package state

import "github.com/tailored-agentic-units/observable/observability"

const (
	EventStateCreate observability.EventType = "state.create"
	EventStateListen observability.EventType = "state.listen"
	EventStateIgnore observability.EventType = "state.unlisten"
	EventStateAppend observability.EventType = "state.append"
	EventStateSet    observability.EventType = "state.set"
	EventStateLock   observability.EventType = "state.lock"
	EventStateUnlock observability.EventType = "state.unlock"
	EventStateNotify observability.EventType = "state.notify"
	EventStateError  observability.EventType = "state.error"
)
