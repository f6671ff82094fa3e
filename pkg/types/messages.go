package types

import "encoding/json"

// Message types carried in the "type" field of every frame.
const (
	MessageTypeConnected   = "connected"
	MessageTypeCreateRoom  = "create-room"
	MessageTypeRoomCreated = "room-created"
	MessageTypeJoin        = "join"
	MessageTypeJoined      = "joined"
	MessageTypeList        = "list"
	MessageTypeLeave       = "leave"
	MessageTypeData        = "data"
	MessageTypeError       = "error"
)

// InboundMessage is a frame received from a peer. The set of implementations
// is closed: CreateRoomMessage, JoinMessage, ListMessage, LeaveMessage and
// DataMessage.
type InboundMessage interface {
	Type() string
	inbound()
}

// CreateRoomMessage asks to create a room and join it.
type CreateRoomMessage struct {
	Settings RoomSettingsInput `json:"settings"`
}

// JoinMessage asks to join an existing room.
type JoinMessage struct {
	Room string `json:"room"`
}

// ListMessage asks for the ids of the peers in the sender's room.
type ListMessage struct{}

// LeaveMessage asks to leave the sender's room.
type LeaveMessage struct{}

// DataMessage carries an opaque payload to the other peers of the room.
// Fields holds every top-level field of the frame as received.
type DataMessage struct {
	Fields map[string]json.RawMessage
}

func (*CreateRoomMessage) Type() string { return MessageTypeCreateRoom }
func (*JoinMessage) Type() string       { return MessageTypeJoin }
func (*ListMessage) Type() string       { return MessageTypeList }
func (*LeaveMessage) Type() string      { return MessageTypeLeave }
func (*DataMessage) Type() string       { return MessageTypeData }

func (*CreateRoomMessage) inbound() {}
func (*JoinMessage) inbound()       {}
func (*ListMessage) inbound()       {}
func (*LeaveMessage) inbound()      {}
func (*DataMessage) inbound()       {}

// DecodeInbound parses a raw frame into its message variant. Malformed JSON
// and unknown types yield ErrInvalidMessage.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, ErrInvalidMessage
	}
	var msgType string
	if raw, ok := fields["type"]; !ok || json.Unmarshal(raw, &msgType) != nil {
		return nil, ErrInvalidMessage
	}

	var msg InboundMessage
	switch msgType {
	case MessageTypeCreateRoom:
		msg = &CreateRoomMessage{}
	case MessageTypeJoin:
		msg = &JoinMessage{}
	case MessageTypeList:
		return &ListMessage{}, nil
	case MessageTypeLeave:
		return &LeaveMessage{}, nil
	case MessageTypeData:
		return &DataMessage{Fields: fields}, nil
	default:
		return nil, ErrInvalidMessage
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, ErrInvalidMessage
	}
	return msg, nil
}

// ConnectedEvent tells a new peer its identity.
type ConnectedEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RoomCreatedEvent is sent to the creator of a room.
type RoomCreatedEvent struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// JoinedEvent is broadcast to a room, joiner included, when a peer joins.
type JoinedEvent struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
}

// ListEvent answers a list request.
type ListEvent struct {
	Type  string   `json:"type"`
	Peers []string `json:"peers"`
}

// ErrorEvent reports a failed request to the peer that made it.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewConnectedEvent(id string) ConnectedEvent {
	return ConnectedEvent{Type: MessageTypeConnected, ID: id}
}

func NewRoomCreatedEvent(room string) RoomCreatedEvent {
	return RoomCreatedEvent{Type: MessageTypeRoomCreated, Room: room}
}

func NewJoinedEvent(sender string) JoinedEvent {
	return JoinedEvent{Type: MessageTypeJoined, Sender: sender}
}

func NewListEvent(peers []string) ListEvent {
	if peers == nil {
		peers = []string{}
	}
	return ListEvent{Type: MessageTypeList, Peers: peers}
}

func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: MessageTypeError, Error: err.Error()}
}

// Outbound is a broadcastable event with a known sender.
type Outbound struct {
	Sender  string
	Payload any
}

// DataEvent builds the relayed form of a data message: the client's fields
// with type forced to data and sender set to the peer id.
func (m *DataMessage) DataEvent(sender string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m.Fields)+2)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["type"] = json.RawMessage(`"` + MessageTypeData + `"`)
	senderJSON, _ := json.Marshal(sender)
	out["sender"] = senderJSON
	return out
}
