package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
	"github.com/QingMing-Bot/clore-ops-bot/pkg/logutil"
)

// SSHExecutor 抽象执行接口，便于替换真实 SSH / Mock
type SSHExecutor interface {
	Execute(ctx context.Context, host string, port int, user string, cred domain.Credential, cmd string) domain.ExecResult
}

// Target 单机执行目标
type Target struct {
	InstanceID int64
	Host       string
	Port       int
}

// ExecConfig 执行编排参数
type ExecConfig struct {
	User           string        // 远程用户，默认 root
	KeyPath        string        // 批量执行使用的私钥
	MaxParallel    int           // 批量并发上限 (<=0 不限制)
	CommandTimeout time.Duration // 单条命令上限 (<=0 不限制)
}

// ExecService 负责单机执行与批量执行编排，并记录执行历史
type ExecService struct {
	executor SSHExecutor
	hWriter  *HistoryWriter
	cfg      ExecConfig
	log      *zap.Logger
}

func NewExecService(executor SSHExecutor, writer *HistoryWriter, cfg ExecConfig, log *zap.Logger) *ExecService {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecService{executor: executor, hWriter: writer, cfg: cfg, log: log}
}

// KeyCredential 进程级私钥凭据
func (s *ExecService) KeyCredential() domain.Credential { return domain.KeyFile{Path: s.cfg.KeyPath} }

// ExecuteOne 在单个目标上执行命令
func (s *ExecService) ExecuteOne(ctx context.Context, t Target, cred domain.Credential, cmd string) domain.ExecResult {
	dispatchID := uuid.NewString()
	res := s.run(ctx, t, cred, cmd)
	s.record(dispatchID, cred, false, cmd, res)
	s.log.Info("command dispatched",
		zap.String("dispatch_id", dispatchID),
		zap.Int64("instance_id", t.InstanceID),
		zap.String("command", logutil.SanitizeForLog(cmd)),
		zap.Stringer("failure", res.Kind))
	return res
}

// ExecuteOnAll 在全部实例上以私钥方式执行同一条命令。
// 单台失败不影响其它实例；返回结果按实例 ID 一一对应。
func (s *ExecService) ExecuteOnAll(ctx context.Context, instances []domain.Instance, cmd string) map[int64]domain.ExecResult {
	dispatchID := uuid.NewString()
	cred := s.KeyCredential()
	results := make(map[int64]domain.ExecResult, len(instances))
	var mu sync.Mutex

	g := new(errgroup.Group)
	if s.cfg.MaxParallel > 0 {
		g.SetLimit(s.cfg.MaxParallel)
	}
	seen := make(map[int64]struct{}, len(instances))
	for _, inst := range instances {
		if _, dup := seen[inst.ID]; dup {
			continue
		}
		seen[inst.ID] = struct{}{}
		host, port := domain.ResolveHostPort(inst)
		t := Target{InstanceID: inst.ID, Host: host, Port: port}
		g.Go(func() error {
			res := s.run(ctx, t, cred, cmd)
			s.record(dispatchID, cred, true, cmd, res)
			mu.Lock()
			results[t.InstanceID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Succeeded() {
			failed++
		}
	}
	s.log.Info("bulk command dispatched",
		zap.String("dispatch_id", dispatchID),
		zap.Int("instances", len(results)),
		zap.Int("failed", failed),
		zap.String("command", logutil.SanitizeForLog(cmd)))
	return results
}

func (s *ExecService) run(ctx context.Context, t Target, cred domain.Credential, cmd string) domain.ExecResult {
	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}
	res := s.executor.Execute(ctx, t.Host, t.Port, s.cfg.User, cred, cmd)
	res.InstanceID = t.InstanceID
	if res.Host == "" {
		res.Host = t.Host
	}
	return res
}

// record 只写审计元数据，命令输出不落盘
func (s *ExecService) record(dispatchID string, cred domain.Credential, bulk bool, cmd string, r domain.ExecResult) {
	if s.hWriter == nil {
		return
	}
	h := domain.ExecHistory{
		DispatchID: dispatchID,
		InstanceID: r.InstanceID,
		Host:       r.Host,
		Port:       r.Port,
		Bulk:       bulk,
		Command:    cmd,
		ExitCode:   r.ExitCode,
		Failure:    r.Kind.String(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	if cred != nil {
		h.AuthMethod = string(cred.Method())
	}
	if !r.Succeeded() {
		h.ErrorText = r.Text()
	}
	s.hWriter.Write(h)
}
