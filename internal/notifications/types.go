package notifications

// Urgency selects how loudly a notification is shown.
type Urgency int

const (
	UrgencyInfo Urgency = iota
	// UrgencyAlert is used when the rig link is lost and needs attention.
	UrgencyAlert
)

// Payload is one desktop notification about the rig link.
type Payload struct {
	Title   string
	Content string
	Urgency Urgency
}

type Sender interface {
	Send(payload Payload)
}
