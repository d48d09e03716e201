// Package bot 运维会话层：访问控制、按操作员隔离的会话存储，以及把聊天事件
// 转换为远程命令下发的状态机。本包不关心事件来自哪个聊天平台。
package bot

import (
	"context"
	"errors"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventText
	EventButton
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventText:
		return "text"
	case EventButton:
		return "button"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event 一次入站交互。按钮事件的 MessageID 指向按钮所在消息，用于原地编辑。
type Event struct {
	Kind       EventKind
	OperatorID int64
	ChatID     int64
	MessageID  int
	Text       string
	Payload    string
}

// Choice 单个按钮
type Choice struct {
	Label   string
	Payload string
}

// Replier 由聊天传输层实现
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendChoices(ctx context.Context, chatID int64, text string, choices [][]Choice) error
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, choices [][]Choice) error
}

type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

var (
	ErrAccessDenied   = errors.New("access denied")
	ErrNoSession      = errors.New("no active session")
	ErrTargetNotFound = errors.New("target not found")
	ErrInvalidInput   = errors.New("invalid input")
)
