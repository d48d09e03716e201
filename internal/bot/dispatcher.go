package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
	"github.com/QingMing-Bot/clore-ops-bot/internal/service"
	"github.com/QingMing-Bot/clore-ops-bot/pkg/logutil"
)

// Inventory 实例清单来源
type Inventory interface {
	ListInstances(ctx context.Context) []domain.Instance
}

// Runner 命令执行编排，由 service.ExecService 实现
type Runner interface {
	ExecuteOne(ctx context.Context, t service.Target, cred domain.Credential, cmd string) domain.ExecResult
	ExecuteOnAll(ctx context.Context, instances []domain.Instance, cmd string) map[int64]domain.ExecResult
	KeyCredential() domain.Credential
}

var _ Runner = (*service.ExecService)(nil)

// Dispatcher 会话状态机。同一会话的事件串行处理，不同操作员互不影响。
type Dispatcher struct {
	store     *Store
	inventory Inventory
	runner    Runner
	replier   Replier
	log       *zap.Logger
}

func NewDispatcher(store *Store, inv Inventory, runner Runner, replier Replier, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, inventory: inv, runner: runner, replier: replier, log: log}
}

func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventStart:
		d.store.Start(ev.OperatorID)
		d.reply(ctx, ev, WelcomeText, WelcomeMenu())
		return nil
	case EventCancel:
		d.store.End(ev.OperatorID)
		d.reply(ctx, ev, CancelledText, nil)
		return nil
	}

	sess, ok := d.store.Get(ev.OperatorID)
	if ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		// 等锁期间会话可能已被结束或替换
		ok = !sess.ended
	}
	if !ok {
		if ev.Kind == EventButton {
			d.reply(ctx, ev, NoSessionText, nil)
		}
		return ErrNoSession
	}

	log := d.log.With(zap.Int64("operator_id", ev.OperatorID), zap.Stringer("state", sess.state), zap.Stringer("event", ev.Kind))
	log.Debug("handle event", zap.String("payload", ev.Payload))

	if ev.Kind == EventButton && ev.Payload == PayloadClose {
		d.store.endLocked(sess)
		d.reply(ctx, ev, GoodbyeText, nil)
		return nil
	}

	switch sess.state {
	case StateSelectTarget:
		return d.onSelectTarget(ctx, ev, sess)
	case StateChooseAuth:
		return d.onChooseAuth(ctx, ev, sess)
	case StateEnterPassword, StateEnterCommand, StateEnterBulkCommand:
		if ev.Kind == EventButton {
			// 旧消息上的导航按钮：回到选择目标
			if ev.Payload == PayloadViewOrders || ev.Payload == PayloadStart || strings.HasPrefix(ev.Payload, PayloadOrderPrefix) {
				sess.state = StateSelectTarget
				return d.onSelectTarget(ctx, ev, sess)
			}
			d.reply(ctx, ev, textPrompt(sess.state), nil)
			return ErrInvalidInput
		}
		switch sess.state {
		case StateEnterPassword:
			return d.onPassword(ctx, ev, sess)
		case StateEnterCommand:
			return d.onCommand(ctx, ev, sess, log)
		default:
			return d.onBulkCommand(ctx, ev, sess, log)
		}
	}
	return nil
}

func (d *Dispatcher) onSelectTarget(ctx context.Context, ev Event, sess *Session) error {
	if ev.Kind != EventButton {
		return nil
	}
	switch ev.Payload {
	case PayloadStart:
		sess.clearTarget()
		d.reply(ctx, ev, WelcomeText, WelcomeMenu())
		return nil
	case PayloadViewOrders:
		sess.clearTarget()
		instances := d.inventory.ListInstances(ctx)
		if len(instances) == 0 {
			d.store.endLocked(sess)
			d.reply(ctx, ev, NoOrdersText, nil)
			return nil
		}
		d.reply(ctx, ev, SelectOrderText, OrderMenu(instances))
		return nil
	case PayloadBulk:
		sess.state = StateEnterBulkCommand
		d.reply(ctx, ev, EnterBulkCommandText, nil)
		return nil
	}

	id, ok := ParseOrderPayload(ev.Payload)
	if !ok {
		d.reply(ctx, ev, InvalidSelectionText, WelcomeMenu())
		return ErrInvalidInput
	}
	inst, found := lo.Find(d.inventory.ListInstances(ctx), func(i domain.Instance) bool { return i.ID == id })
	if !found {
		d.reply(ctx, ev, OrderNotFoundText, WelcomeMenu())
		return fmt.Errorf("order %d: %w", id, ErrTargetNotFound)
	}
	sess.host, sess.port = domain.ResolveHostPort(inst)
	sess.activeOrderID = inst.ID

	switch {
	case sess.authMethod == domain.AuthPublicKey,
		sess.authMethod == domain.AuthPassword && sess.password != "":
		sess.state = StateEnterCommand
		d.reply(ctx, ev, EnterCommandText, nil)
	case sess.authMethod == domain.AuthPassword:
		sess.state = StateEnterPassword
		d.reply(ctx, ev, EnterPasswordText, nil)
	default:
		sess.state = StateChooseAuth
		d.reply(ctx, ev, ChooseAuthText, AuthMenu())
	}
	return nil
}

func (d *Dispatcher) onChooseAuth(ctx context.Context, ev Event, sess *Session) error {
	if ev.Kind == EventButton {
		switch ev.Payload {
		case PayloadPassword:
			sess.authMethod = domain.AuthPassword
			sess.state = StateEnterPassword
			d.reply(ctx, ev, EnterPasswordText, nil)
			return nil
		case PayloadPublicKey:
			sess.authMethod = domain.AuthPublicKey
			sess.state = StateEnterCommand
			d.reply(ctx, ev, EnterCommandText, nil)
			return nil
		}
	}
	d.reply(ctx, ev, InvalidSelectionText, AuthMenu())
	return ErrInvalidInput
}

func (d *Dispatcher) onPassword(ctx context.Context, ev Event, sess *Session) error {
	if ev.Text == "" {
		d.reply(ctx, ev, EnterPasswordText, nil)
		return ErrInvalidInput
	}
	sess.password = ev.Text
	sess.state = StateEnterCommand
	d.reply(ctx, ev, EnterCommandText, nil)
	return nil
}

func (d *Dispatcher) onCommand(ctx context.Context, ev Event, sess *Session, log *zap.Logger) error {
	cmd := strings.TrimSpace(ev.Text)
	if cmd == "" {
		d.reply(ctx, ev, EnterCommandText, nil)
		return ErrInvalidInput
	}
	cred := d.credential(sess)
	if cred == nil {
		d.store.endLocked(sess)
		d.reply(ctx, ev, AuthMissingText, nil)
		return nil
	}
	if sess.host == "" {
		sess.state = StateSelectTarget
		d.reply(ctx, ev, InvalidSelectionText, WelcomeMenu())
		return ErrInvalidInput
	}

	log.Info("run command", zap.Int64("order_id", sess.activeOrderID), zap.String("command", logutil.SanitizeForLog(cmd)))
	res := d.runner.ExecuteOne(ctx, service.Target{InstanceID: sess.activeOrderID, Host: sess.host, Port: sess.port}, cred, cmd)
	d.send(ctx, ev.ChatID, FormatCommandOutput(sess.host, res.Text()), nil)
	d.send(ctx, ev.ChatID, NextStepText, NextMenu(sess.activeOrderID))
	sess.state = StateSelectTarget
	return nil
}

func (d *Dispatcher) onBulkCommand(ctx context.Context, ev Event, sess *Session, log *zap.Logger) error {
	cmd := strings.TrimSpace(ev.Text)
	if cmd == "" {
		d.reply(ctx, ev, EnterBulkCommandText, nil)
		return ErrInvalidInput
	}
	sess.state = StateSelectTarget
	instances := d.inventory.ListInstances(ctx)
	if len(instances) == 0 {
		d.send(ctx, ev.ChatID, NoOrdersText, BulkNextMenu())
		return nil
	}
	log.Info("run bulk command", zap.Int("instances", len(instances)), zap.String("command", logutil.SanitizeForLog(cmd)))
	results := d.runner.ExecuteOnAll(ctx, instances, cmd)
	d.send(ctx, ev.ChatID, FormatBulkReport(results), nil)
	d.send(ctx, ev.ChatID, NextStepText, BulkNextMenu())
	return nil
}

// textPrompt 等待文本输入的状态对应的提示语
func textPrompt(st State) string {
	switch st {
	case StateEnterPassword:
		return EnterPasswordText
	case StateEnterBulkCommand:
		return EnterBulkCommandText
	default:
		return EnterCommandText
	}
}

func (d *Dispatcher) credential(sess *Session) domain.Credential {
	switch sess.authMethod {
	case domain.AuthPassword:
		if sess.password == "" {
			return nil
		}
		return domain.Password{Secret: sess.password}
	case domain.AuthPublicKey:
		return d.runner.KeyCredential()
	}
	return nil
}

// reply 按钮事件原地编辑原消息，其余事件发送新消息
func (d *Dispatcher) reply(ctx context.Context, ev Event, text string, choices [][]Choice) {
	if ev.Kind == EventButton && ev.MessageID != 0 {
		if err := d.replier.EditMessage(ctx, ev.ChatID, ev.MessageID, text, choices); err != nil {
			d.log.Warn("edit message failed", zap.Error(err))
		}
		return
	}
	d.send(ctx, ev.ChatID, text, choices)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, choices [][]Choice) {
	var err error
	if len(choices) > 0 {
		err = d.replier.SendChoices(ctx, chatID, text, choices)
	} else {
		err = d.replier.SendText(ctx, chatID, text)
	}
	if err != nil {
		d.log.Warn("send message failed", zap.Error(err))
	}
}
