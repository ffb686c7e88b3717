package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromFirst    string
	FromLast     string
	FromUsername string
	Text         string
	// PhotoID is the file handle of the largest photo size, empty for
	// plain text messages. Caption (if any) arrives in Text.
	PhotoID string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

// MessageRef identifies a delivered message so it can be retracted later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// ProbeStatus is the result of a non-delivering reachability check.
type ProbeStatus string

const (
	ProbeActive      ProbeStatus = "active"
	ProbeBlocked     ProbeStatus = "blocked"
	ProbeDeleted     ProbeStatus = "deleted"
	ProbeUnreachable ProbeStatus = "unreachable"
)

// Adapter is the messaging-platform boundary consumed by the dispatcher,
// the retraction scheduler and the conversation layer.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photoID, caption string, opt *SendOptions) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	Probe(ctx context.Context, to ChatTarget) (ProbeStatus, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// update platform-specific command menus (e.g. Telegram's /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand, ownerChatID int64) error
}
