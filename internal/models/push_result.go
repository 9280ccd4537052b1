package models

// PushResult captures the send outcome per push token.
type PushResult struct {
	Token    string `json:"token"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
	TicketID string `json:"ticket_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	// ResultAccepted indicates the push service issued an ok ticket.
	ResultAccepted = "accepted"
	// ResultFailed indicates the push service rejected the message.
	ResultFailed = "failed"
)

// PushTicket is one entry of the push service send response.
type PushTicket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// ErrorCode returns the machine readable error of a failed ticket.
func (t PushTicket) ErrorCode() string {
	if t.Details != nil && t.Details.Error != "" {
		return t.Details.Error
	}
	return t.Message
}
