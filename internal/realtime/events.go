package realtime

import "encoding/json"

// Server -> client events.
const (
	EventPresenceChanged     = "presenceChanged"
	EventNewMessage          = "newMessage"
	EventNewGroupMessage     = "newGroupMessage"
	EventNewGroupChat        = "newGroupChat"
	EventUpdateGroupChat     = "updateGroupChat"
	EventAddedToGroup        = "addedToGroup"
	EventRemovedFromGroup    = "removedFromGroup"
	EventReceiveGroupMessage = "receiveGroupMessage"
)

// Client -> server events.
const (
	EventJoinRoom         = "joinRoom"
	EventLeaveRoom        = "leaveRoom"
	EventSendGroupMessage = "sendGroupMessage"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// GroupMessage is the payload of newGroupMessage and receiveGroupMessage.
type GroupMessage struct {
	GroupID RoomID `json:"groupId"`
	Message any    `json:"message"`
}

// RemovedFromGroup is the payload sent to a member removed from a group.
type RemovedFromGroup struct {
	GroupID RoomID `json:"groupId"`
	Message string `json:"message"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
