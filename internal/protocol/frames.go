package protocol

import "encoding/json"

// Frame is the tagged sum of every inbound (client->server) message this
// server accepts. Decode yields one of these or an *ErrDrop.
type Frame interface {
	frameType() string
}

// JoinRoomFrame is JOIN_ROOM{roomId, displayName?, password?}.
type JoinRoomFrame struct {
	RoomID      string  `json:"roomId"`
	DisplayName *string `json:"displayName,omitempty"`
	Password    *string `json:"password,omitempty"`
}

func (JoinRoomFrame) frameType() string { return TypeJoinRoom }

// LeaveRoomFrame is LEAVE_ROOM{}.
type LeaveRoomFrame struct{}

func (LeaveRoomFrame) frameType() string { return TypeLeaveRoom }

// UpdateDisplayNameFrame is UPDATE_DISPLAY_NAME{displayName}.
type UpdateDisplayNameFrame struct {
	DisplayName string `json:"displayName"`
}

func (UpdateDisplayNameFrame) frameType() string { return TypeUpdateDisplayName }

// KnockFrame is KNOCK{roomId}.
type KnockFrame struct {
	RoomID string `json:"roomId"`
}

func (KnockFrame) frameType() string { return TypeKnock }

// Target selects the recipient of a CUSTOM message.
type Target struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId,omitempty"`
}

// CustomFrame is CUSTOM{customType, target?, data}.
type CustomFrame struct {
	CustomType string          `json:"customType"`
	Target     *Target         `json:"target,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func (CustomFrame) frameType() string { return TypeCustom }

// SDP mirrors RTCSessionDescriptionInit: {type, sdp?}.
type SDP struct {
	Type string  `json:"type"`
	SDP  *string `json:"sdp,omitempty"`
}

// OfferFrame is OFFER{toPeerId, offer}.
type OfferFrame struct {
	ToPeerID string `json:"toPeerId"`
	Offer    SDP    `json:"offer"`
}

func (OfferFrame) frameType() string { return TypeOffer }

// AnswerFrame is ANSWER{toPeerId, answer}.
type AnswerFrame struct {
	ToPeerID string `json:"toPeerId"`
	Answer   SDP    `json:"answer"`
}

func (AnswerFrame) frameType() string { return TypeAnswer }

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMLineIndex    *int    `json:"sdpMLineIndex"`
	SDPMid           *string `json:"sdpMid"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ICECandidateFrame is ICE_CANDIDATE{toPeerId, candidate}.
type ICECandidateFrame struct {
	ToPeerID  string       `json:"toPeerId"`
	Candidate ICECandidate `json:"candidate"`
}

func (ICECandidateFrame) frameType() string { return TypeICECandidate }

// Decode classifies a decoded Envelope into its concrete Frame, or returns
// *ErrDrop for any type not in the recognized inbound set.
func Decode(env Envelope) (Frame, error) {
	switch env.Type {
	case TypeJoinRoom:
		var f JoinRoomFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad JOIN_ROOM payload: " + err.Error()}
		}
		return f, nil
	case TypeLeaveRoom:
		return LeaveRoomFrame{}, nil
	case TypeUpdateDisplayName:
		var f UpdateDisplayNameFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad UPDATE_DISPLAY_NAME payload: " + err.Error()}
		}
		return f, nil
	case TypeKnock:
		var f KnockFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad KNOCK payload: " + err.Error()}
		}
		return f, nil
	case TypeCustom:
		var f CustomFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad CUSTOM payload: " + err.Error()}
		}
		return f, nil
	case TypeOffer:
		var f OfferFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad OFFER payload: " + err.Error()}
		}
		return f, nil
	case TypeAnswer:
		var f AnswerFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad ANSWER payload: " + err.Error()}
		}
		return f, nil
	case TypeICECandidate:
		var f ICECandidateFrame
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, &ErrDrop{Reason: "bad ICE_CANDIDATE payload: " + err.Error()}
		}
		return f, nil
	default:
		return nil, &ErrDrop{Reason: "unrecognized type " + env.Type}
	}
}
