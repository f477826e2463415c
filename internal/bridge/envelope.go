package bridge

import "encoding/json"

// InitID is the correlation id of the server-initiated identify exchange.
// It is the one id the server hands out that is not a cmd_<n> token.
const InitID = "init"

// ActionIdentify is the action name of the identify request/reply pair.
const ActionIdentify = "identify"

// Envelope is the single JSON frame shape spoken on a bridge socket. Which
// variant a frame is (identify reply, command response, error response,
// unsolicited event) is decided by which fields are present, never by
// optimistic field access — see Classify.
type Envelope struct {
	ID          string          `json:"id,omitempty"`
	Action      string          `json:"action,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	Event       string          `json:"event,omitempty"`
	Browser     string          `json:"browser,omitempty"`
	BrowserName string          `json:"browserName,omitempty"`
}

// EnvelopeKind is the discriminated variant of an inbound frame.
type EnvelopeKind int

const (
	KindMalformed EnvelopeKind = iota
	KindIdentifyReply
	KindResponse
	KindErrorResponse
	KindEvent
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindIdentifyReply:
		return "identify"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error"
	case KindEvent:
		return "event"
	}
	return "malformed"
}

// DecodeEnvelope parses a raw text frame and classifies it. Frames that are
// not valid JSON, or that fit none of the known variants, come back as
// KindMalformed; the protocol handler logs and drops those.
func DecodeEnvelope(data []byte) (*Envelope, EnvelopeKind) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, KindMalformed
	}
	return &e, e.Classify()
}

// Classify picks the variant by field presence:
//
//	id == "init" or action == "identify"  -> identify reply
//	id set, error set                     -> error response
//	id set                                -> command response
//	no id, event or action set            -> unsolicited event
func (e *Envelope) Classify() EnvelopeKind {
	switch {
	case e.ID == InitID || e.Action == ActionIdentify:
		return KindIdentifyReply
	case e.ID != "" && e.Error != "":
		return KindErrorResponse
	case e.ID != "":
		return KindResponse
	case e.Event != "" || e.Action != "":
		return KindEvent
	}
	return KindMalformed
}
