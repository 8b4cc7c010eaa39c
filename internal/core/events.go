package core

import "encoding/json"

// Event names exchanged over the transport, both directions.
const (
	EvRegister    = "register"
	EvSendMessage = "send-message"
	EvTyping      = "typing"
	EvCallUser    = "call-user"
	EvAcceptCall  = "accept-call"
	EvRejectCall  = "reject-call"
	EvEndCall     = "end-call"
	EvICE         = "ice-candidate"
	EvAnswer      = "answer"
	EvPing        = "ping"

	EvRegistered   = "registered"
	EvUserOnline   = "user-online"
	EvUserOffline  = "user-offline"
	EvReceiveMsg   = "receive-message"
	EvUserTyping   = "user-typing"
	EvIncomingCall = "incoming-call"
	EvCallAccepted = "call-accepted"
	EvCallRejected = "call-rejected"
	EvCallEnded    = "call-ended"
	EvNotification = "notification"
	EvPong         = "pong"
)

// Envelope is the minimal view decoded from every inbound frame;
// the full payload is re-decoded by the handler that owns the type.
type Envelope struct {
	Type string `json:"type"`
}

// Encode marshals an outbound event into a transport frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
