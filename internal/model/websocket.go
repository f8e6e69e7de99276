package model

// WebSocket message types
const (
	WSMessageTypeBeat     = "beat"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSBeatMessage is sent whenever a stage of a beat changes state.
type WSBeatMessage struct {
	Type    string     `json:"type"`
	BatchID string     `json:"batchId"`
	Stage   Stage      `json:"stage"`
	State   StageState `json:"state"`
	Beat    Beat       `json:"beat"`
}

// WSCompleteMessage is sent once every beat of a batch is terminal.
type WSCompleteMessage struct {
	Type    string       `json:"type"`
	BatchID string       `json:"batchId"`
	Result  *BatchResult `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batchId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
