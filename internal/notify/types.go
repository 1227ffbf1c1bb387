package notify

import "athsync/internal/model"

// Message is the frame written to the websocket endpoint.
type Message struct {
	Op   string      `json:"op"`   // always "event"
	Type string      `json:"type"` // event type, duplicated for cheap routing
	Data model.Event `json:"data"`
	Ts   int64       `json:"ts"` // send time in milliseconds
}

// Ack is the optional reply a consumer may send back.
type Ack struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}
