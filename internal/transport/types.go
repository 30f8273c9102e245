package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is a transport-neutral inbound event. Exactly one of Message or
// Callback is set, matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Callback is a press on an inline keyboard button (a count choice).
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Adapter abstracts the messaging platform. The Telegram implementation
// lives in transport/telegram; tests use in-memory fakes.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	// SendPrompt sends text with one inline keyboard button per option, in
	// order. Each button's callback data is the option's decimal value.
	SendPrompt(ctx context.Context, chatID int64, text string, options []int) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is a single command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// publish the platform command menu (Telegram's "/" list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
