package types

// CloseReason is an application close code with its human-readable text.
type CloseReason struct {
	Code int
	Text string
}

// Close reasons sent in WebSocket close frames.
var (
	CloseUnauthorized = CloseReason{Code: 3100, Text: "Unauthorized"}
	CloseNoToken      = CloseReason{Code: 3101, Text: "No token provided"}
	CloseInvalidToken = CloseReason{Code: 3102, Text: "Invalid token provided"}
	CloseLobbyTimeout = CloseReason{Code: 3201, Text: "Timeout waiting for room"}
	CloseRoomDeleted  = CloseReason{Code: 3202, Text: "Room was deleted"}
	CloseLeftRoom     = CloseReason{Code: 3203, Text: "You left the room"}
	CloseRoomFull     = CloseReason{Code: 3204, Text: "Room is full"}
)
