package protocol

// ActionKind discriminates inbound client actions.
type ActionKind string

const (
	ActionSend   ActionKind = "send"
	ActionRename ActionKind = "rename"
)

// NotificationKind discriminates outbound server notifications.
type NotificationKind string

const (
	NotifyMessage  NotificationKind = "message"
	NotifyUserName NotificationKind = "username"
)

// ──────────────────────────────── inbound ────────────────────────────────────

// InboundAction is one decoded client frame. The set of implementations is
// closed: SendMessage and RenameUser.
type InboundAction interface {
	Kind() ActionKind
	inbound()
}

// SendMessage asks the server to broadcast Text to every connection.
type SendMessage struct {
	Text string
}

// RenameUser changes the sender's display name.
type RenameUser struct {
	UserName string
}

func (SendMessage) Kind() ActionKind { return ActionSend }
func (RenameUser) Kind() ActionKind  { return ActionRename }
func (SendMessage) inbound()         {}
func (RenameUser) inbound()          {}

// ──────────────────────────────── outbound ───────────────────────────────────

// Notification is one server-to-client frame. The set of implementations is
// closed: UserMessage and UserNameChanged.
type Notification interface {
	Kind() NotificationKind
	notification()
}

type UserMessage struct {
	From string
	Text string
}

type UserNameChanged struct {
	UserName string
}

func (UserMessage) Kind() NotificationKind     { return NotifyMessage }
func (UserNameChanged) Kind() NotificationKind { return NotifyUserName }
func (UserMessage) notification()              {}
func (UserNameChanged) notification()          {}

// ──────────────────────────────── wire DTOs ──────────────────────────────────

// inboundFrame is the raw client frame. Pointer fields tell "absent" apart
// from "empty".
type inboundFrame struct {
	Action   *string `json:"Action"`
	Text     *string `json:"Text"`
	UserName *string `json:"UserName"`
}

type sendBody struct {
	Text *string `validate:"required"`
}

type renameBody struct {
	UserName *string `validate:"required"`
}

// Field order is the wire order.
type userMessageFrame struct {
	Action NotificationKind `json:"Action"`
	From   string           `json:"From"`
	Text   string           `json:"Text"`
}

type userNameFrame struct {
	Action   NotificationKind `json:"Action"`
	UserName string           `json:"UserName"`
}
