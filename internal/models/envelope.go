package models

import (
	"encoding/json"
	"time"
)

// SendRequest is the payload produced upstream and consumed by the send worker.
type SendRequest struct {
	RequestID     string                 `json:"request_id"`
	CorrelationID string                 `json:"correlation_id"`
	CreatedAt     time.Time              `json:"created_at"`
	Message       PushMessage            `json:"message"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	UseFCMv1      bool                   `json:"use_fcm_v1"`
}

// PushMessage is the body posted to the push service send endpoint.
// Optional fields are omitted when empty so a data-only message is sent as
// exactly {to, data}. Data is omitted only when nil; an empty map is sent as {}.
type PushMessage struct {
	To        string                 `json:"to"`
	Sound     string                 `json:"sound,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	ChannelID string                 `json:"channelId,omitempty"`
}

func (m PushMessage) MarshalJSON() ([]byte, error) {
	type plain PushMessage
	out := struct {
		plain
		Data *map[string]interface{} `json:"data,omitempty"`
	}{plain: plain(m)}
	if m.Data != nil {
		out.Data = &m.Data
	}
	return json.Marshal(out)
}
