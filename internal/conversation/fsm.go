package conversation

// trigger is an input to the transition table.
type trigger string

const (
	trBegin          trigger = "begin"
	trBeginAgent     trigger = "begin_agent"
	trConnected      trigger = "connected"
	trConnectFailed  trigger = "connect_failed"
	trTranscript     trigger = "transcript"
	trSubmit         trigger = "submit"
	trCaptureTimeout trigger = "capture_timeout"
	trCaptureError   trigger = "capture_error"
	trDispatch       trigger = "dispatch"
	trResponseReady  trigger = "response_ready"
	trResponseFailed trigger = "response_failed"
	trSynthesisEnd   trigger = "synthesis_end"
	trSynthesisError trigger = "synthesis_error"
	trAgentSpeaking  trigger = "agent_speaking"
	trAgentQuiet     trigger = "agent_quiet"
	trDisconnected   trigger = "disconnected"
	trErrorReported  trigger = "error_reported"
	trEnd            trigger = "end"
)

var transitions = map[State]map[trigger]State{
	StateIdle: {
		trBegin:      StateListening,
		trBeginAgent: StateConnecting,
		trSubmit:     StateTranscribing,
		trEnd:        StateIdle,
	},
	StateConnecting: {
		trConnected:     StateListening,
		trConnectFailed: StateError,
		trDisconnected:  StateIdle,
		trEnd:           StateIdle,
	},
	StateListening: {
		trTranscript:     StateTranscribing,
		trSubmit:         StateTranscribing,
		trCaptureTimeout: StateIdle,
		trCaptureError:   StateError,
		trAgentSpeaking:  StateSpeaking,
		trDisconnected:   StateIdle,
		trEnd:            StateIdle,
	},
	StateTranscribing: {
		trDispatch: StateAwaitingResponse,
		trEnd:      StateIdle,
	},
	StateAwaitingResponse: {
		trResponseReady:  StateSpeaking,
		trResponseFailed: StateError,
		trEnd:            StateIdle,
	},
	StateSpeaking: {
		trSynthesisEnd:   StateIdle,
		trSynthesisError: StateError,
		trSubmit:         StateTranscribing,
		trAgentQuiet:     StateListening,
		trDisconnected:   StateIdle,
		trEnd:            StateIdle,
	},
	StateError: {
		trErrorReported: StateIdle,
		trEnd:           StateIdle,
	},
}

// transition looks up the next state. ok is false when the trigger is not
// valid in from, in which case the event is ignored.
func transition(from State, t trigger) (to State, ok bool) {
	to, ok = transitions[from][t]
	return to, ok
}
