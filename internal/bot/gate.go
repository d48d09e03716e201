package bot

import (
	"context"

	"go.uber.org/zap"
)

const AccessDeniedText = "Sorry, this bot is only accessible to admins."

// Gate 白名单之外的操作员在进入任何处理器之前被拒绝，不会为其创建会话。
type Gate struct {
	allowed map[int64]struct{}
	replier Replier
	log     *zap.Logger
}

func NewGate(adminIDs []int64, replier Replier, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[id] = struct{}{}
	}
	return &Gate{allowed: allowed, replier: replier, log: log}
}

func (g *Gate) Allowed(operatorID int64) bool {
	_, ok := g.allowed[operatorID]
	return ok
}

func (g *Gate) Wrap(next Handler) Handler {
	return HandlerFunc(func(ctx context.Context, ev Event) error {
		if !g.Allowed(ev.OperatorID) {
			g.log.Warn("access denied", zap.Int64("operator_id", ev.OperatorID), zap.Stringer("event", ev.Kind))
			if err := g.replier.SendText(ctx, ev.ChatID, AccessDeniedText); err != nil {
				g.log.Warn("send refusal failed", zap.Error(err))
			}
			return ErrAccessDenied
		}
		return next.Handle(ctx, ev)
	})
}
