package domain

// Queue item lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusDismissed = "dismissed"
	StatusSnoozed   = "snoozed"
	StatusExecuted  = "executed"
)

// Supported action types. The set is closed: unknown types are rejected at
// the boundary, never at dispatch time.
const (
	ActionSendMessage     = "send-message"
	ActionScheduleMeeting = "schedule-meeting"
	ActionUpdateRecord    = "update-record"
	ActionCreateFollowup  = "create-followup"
	ActionCustom          = "custom"
)

var actionTypes = map[string]bool{
	ActionSendMessage:     true,
	ActionScheduleMeeting: true,
	ActionUpdateRecord:    true,
	ActionCreateFollowup:  true,
	ActionCustom:          true,
}

func KnownActionType(t string) bool { return actionTypes[t] }

// ActionTypes returns the closed set of supported action types.
func ActionTypes() []string {
	return []string{ActionSendMessage, ActionScheduleMeeting, ActionUpdateRecord, ActionCreateFollowup, ActionCustom}
}

// Signal sources.
const (
	SourceCRM      = "crm"
	SourceEmail    = "email"
	SourceCalendar = "calendar"
	SourceManual   = "manual"
	SourceSocial   = "social"
)

var sources = map[string]bool{
	SourceCRM:      true,
	SourceEmail:    true,
	SourceCalendar: true,
	SourceManual:   true,
	SourceSocial:   true,
}

func KnownSource(s string) bool { return sources[s] }

// TerminalStatus reports whether a queue item status admits no further
// transitions.
func TerminalStatus(s string) bool {
	return s == StatusExecuted || s == StatusDismissed
}
