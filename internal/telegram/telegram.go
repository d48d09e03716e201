// Package telegram 把 Telegram 长轮询更新转换为 bot.Event，并实现 bot.Replier。
package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/clore-ops-bot/internal/bot"
)

// 单条消息上限 4096，留出余量
const maxMessageLen = 4000

const pollTimeout = 60

// botAPI tgbotapi.BotAPI 的子集，测试时替换
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api   botAPI
	lanes *lanes
	log   *zap.Logger
}

var _ bot.Replier = (*Bot)(nil)

// New 登录 Telegram 并返回可用的 Bot
func New(token string, log *zap.Logger) (*Bot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	_ = tgbotapi.SetLogger(zap.NewStdLog(log.Named("tgapi")))
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "telegram login")
	}
	log.Info("telegram authorized", zap.String("username", api.Self.UserName))
	return newBot(api, log), nil
}

func newBot(api botAPI, log *zap.Logger) *Bot {
	return &Bot{api: api, lanes: newLanes(), log: log}
}

// Run 阻塞接收更新直到 ctx 结束。同一操作员的事件按到达顺序串行交给 h。
func (b *Bot) Run(ctx context.Context, h bot.Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.lanes.wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, h, upd)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, h bot.Handler, upd tgbotapi.Update) {
	if cq := upd.CallbackQuery; cq != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.log.Debug("answer callback failed", zap.Error(err))
		}
	}
	ev, ok := toEvent(upd)
	if !ok {
		return
	}
	b.lanes.push(ev.OperatorID, func() {
		err := h.Handle(ctx, ev)
		switch {
		case err == nil:
		case errors.Is(err, bot.ErrAccessDenied):
			b.log.Info("event rejected", zap.Int64("operator_id", ev.OperatorID))
		case errors.Is(err, bot.ErrNoSession), errors.Is(err, bot.ErrInvalidInput), errors.Is(err, bot.ErrTargetNotFound):
			b.log.Debug("event not applied", zap.Int64("operator_id", ev.OperatorID), zap.Error(err))
		default:
			b.log.Error("handle event failed", zap.Int64("operator_id", ev.OperatorID), zap.Error(err))
		}
	})
}

// toEvent 只识别 /start、/cancel、普通文本和按钮回调，其它更新忽略
func toEvent(upd tgbotapi.Update) (bot.Event, bool) {
	if m := upd.Message; m != nil && m.From != nil && m.Chat != nil {
		ev := bot.Event{OperatorID: m.From.ID, ChatID: m.Chat.ID, MessageID: m.MessageID}
		if m.IsCommand() {
			switch m.Command() {
			case "start":
				ev.Kind = bot.EventStart
			case "cancel":
				ev.Kind = bot.EventCancel
			default:
				return bot.Event{}, false
			}
			return ev, true
		}
		if m.Text == "" {
			return bot.Event{}, false
		}
		ev.Kind, ev.Text = bot.EventText, m.Text
		return ev, true
	}
	if cq := upd.CallbackQuery; cq != nil && cq.From != nil {
		ev := bot.Event{Kind: bot.EventButton, OperatorID: cq.From.ID, ChatID: cq.From.ID, Payload: cq.Data}
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID, ev.MessageID = cq.Message.Chat.ID, cq.Message.MessageID
		}
		return ev, true
	}
	return bot.Event{}, false
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	return b.SendChoices(ctx, chatID, text, nil)
}

// SendChoices 长文本拆成多条发送，按钮挂在最后一条上
func (b *Bot) SendChoices(_ context.Context, chatID int64, text string, choices [][]bot.Choice) error {
	parts := SplitMessage(text, maxMessageLen)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == len(parts)-1 && len(choices) > 0 {
			msg.ReplyMarkup = keyboard(choices)
		}
		if _, err := b.api.Send(msg); err != nil {
			return pkgerrors.Wrapf(err, "send message to %d", chatID)
		}
	}
	return nil
}

func (b *Bot) EditMessage(ctx context.Context, chatID int64, messageID int, text string, choices [][]bot.Choice) error {
	parts := SplitMessage(text, maxMessageLen)
	var edit tgbotapi.EditMessageTextConfig
	if len(choices) > 0 && len(parts) == 1 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, parts[0], keyboard(choices))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, parts[0])
	}
	if _, err := b.api.Send(edit); err != nil && !isNotModified(err) {
		return pkgerrors.Wrapf(err, "edit message %d", messageID)
	}
	if len(parts) > 1 {
		return b.SendChoices(ctx, chatID, strings.Join(parts[1:], "\n"), choices)
	}
	return nil
}

func keyboard(choices [][]bot.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, row := range choices {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Payload))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
