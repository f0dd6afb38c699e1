package conversation

import "testing"

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from State
		t    trigger
		want State
		ok   bool
	}{
		{StateIdle, trBegin, StateListening, true},
		{StateIdle, trBeginAgent, StateConnecting, true},
		{StateIdle, trSubmit, StateTranscribing, true},
		{StateIdle, trTranscript, "", false},
		{StateListening, trTranscript, StateTranscribing, true},
		{StateListening, trCaptureTimeout, StateIdle, true},
		{StateListening, trCaptureError, StateError, true},
		{StateListening, trBegin, "", false},
		{StateTranscribing, trDispatch, StateAwaitingResponse, true},
		{StateTranscribing, trSubmit, "", false},
		{StateAwaitingResponse, trResponseReady, StateSpeaking, true},
		{StateAwaitingResponse, trResponseFailed, StateError, true},
		{StateAwaitingResponse, trSubmit, "", false},
		{StateSpeaking, trSynthesisEnd, StateIdle, true},
		{StateSpeaking, trSynthesisError, StateError, true},
		{StateSpeaking, trSubmit, StateTranscribing, true},
		{StateSpeaking, trAgentQuiet, StateListening, true},
		{StateConnecting, trConnected, StateListening, true},
		{StateConnecting, trConnectFailed, StateError, true},
		{StateConnecting, trAgentSpeaking, "", false},
		{StateError, trErrorReported, StateIdle, true},
		{StateError, trBegin, "", false},
	}
	for _, tc := range tests {
		got, ok := transition(tc.from, tc.t)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("transition(%s, %s) = (%q, %v), want (%q, %v)", tc.from, tc.t, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEndIsValidFromEveryState(t *testing.T) {
	for from := range transitions {
		got, ok := transition(from, trEnd)
		if !ok || got != StateIdle {
			t.Fatalf("transition(%s, end) = (%q, %v), want idle", from, got, ok)
		}
	}
}

func TestErrorStateOnlyLeadsToIdle(t *testing.T) {
	for trig, to := range transitions[StateError] {
		if to != StateIdle {
			t.Fatalf("error --%s--> %s, want idle", trig, to)
		}
	}
}
