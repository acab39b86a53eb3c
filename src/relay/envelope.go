package relay

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pion/webrtc/v2"
	"github.com/ugorji/go/codec"
)

// Action identifies what a signaling envelope carries.
type Action string

const (
	// Offer and Answer carry SDP session descriptions.
	Offer  Action = "offer"
	Answer Action = "answer"

	// ICECandidate carries trickled ICE candidates.
	ICECandidate Action = "ice-candidate"

	// Gossip is broadcast to every registered peer except the sender.
	Gossip Action = "gossip"

	// GossipTo is the unicast variant of Gossip.
	GossipTo Action = "gossip_to"
)

// IsValid reports whether a is one of the closed set of relay actions.
func (a Action) IsValid() bool {
	switch a {
	case Offer, Answer, ICECandidate, Gossip, GossipTo:
		return true
	}
	return false
}

// IsBroadcast reports whether the action fans out to all peers rather than a
// single target.
func (a Action) IsBroadcast() bool {
	return a == Gossip
}

// Envelope is the unit of delivery forwarded to a target's transport handle.
// The relay never looks inside Payload.
type Envelope struct {
	ID        string      `json:"id"`
	Action    Action      `json:"action"`
	From      string      `json:"from"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// jsonHandle returns the codec handle used for envelopes. Canonical ordering
// keeps encodings stable across processes.
func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

// Marshal encodes the envelope as canonical JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes an envelope from its JSON encoding.
func (e *Envelope) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := codec.NewDecoder(b, jsonHandle())

	return dec.Decode(e)
}

// SessionDescription extracts an SDP payload from a decoded envelope. It is
// the counterpart of passing a webrtc.SessionDescription as Send's payload.
func (e *Envelope) SessionDescription() (*webrtc.SessionDescription, error) {
	raw, err := encodePayload(e.Payload)
	if err != nil {
		return nil, err
	}

	sdp := &webrtc.SessionDescription{}
	dec := codec.NewDecoder(bytes.NewBuffer(raw), jsonHandle())
	if err := dec.Decode(sdp); err != nil {
		return nil, fmt.Errorf("envelope payload is not an SDP: %v", err)
	}

	return sdp, nil
}

// ICECandidateInit extracts a trickled ICE candidate from a decoded envelope.
func (e *Envelope) ICECandidateInit() (*webrtc.ICECandidateInit, error) {
	raw, err := encodePayload(e.Payload)
	if err != nil {
		return nil, err
	}

	cand := &webrtc.ICECandidateInit{}
	dec := codec.NewDecoder(bytes.NewBuffer(raw), jsonHandle())
	if err := dec.Decode(cand); err != nil {
		return nil, fmt.Errorf("envelope payload is not an ICE candidate: %v", err)
	}

	return cand, nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
