package ssh

import (
	"context"
	"sync"
	"time"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

// MockExecutor 用于测试，按主机返回预设结果
type MockExecutor struct {
	mu      sync.Mutex
	scripts map[string]MockResult // key: host
	calls   []MockCall
}

type MockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Kind     domain.FailureKind
	Err      error
	DelayMs  int
}

// MockCall 记录一次调用的参数
type MockCall struct {
	Host string
	Port int
	User string
	Cred domain.Credential
	Cmd  string
}

func NewMockExecutor() *MockExecutor { return &MockExecutor{scripts: map[string]MockResult{}} }

func (m *MockExecutor) Set(host string, res MockResult) {
	m.mu.Lock()
	m.scripts[host] = res
	m.mu.Unlock()
}

func (m *MockExecutor) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockExecutor) Execute(ctx context.Context, host string, port int, user string, cred domain.Credential, cmd string) domain.ExecResult {
	m.mu.Lock()
	r, ok := m.scripts[host]
	m.calls = append(m.calls, MockCall{Host: host, Port: port, User: user, Cred: cred, Cmd: cmd})
	m.mu.Unlock()
	res := domain.ExecResult{Host: host, Port: port, StartedAt: time.Now()}
	if !ok {
		res.ExitCode = 127
		res.Stderr = "command not found"
		res.FinishedAt = time.Now()
		return res
	}
	if r.DelayMs > 0 {
		select {
		case <-ctx.Done():
			res.Kind, res.Err, res.ExitCode = domain.FailureUnknown, ctx.Err(), -1
			res.FinishedAt = time.Now()
			return res
		case <-time.After(time.Duration(r.DelayMs) * time.Millisecond):
		}
	}
	res.Stdout, res.Stderr, res.ExitCode, res.Kind, res.Err = r.Stdout, r.Stderr, r.ExitCode, r.Kind, r.Err
	res.FinishedAt = time.Now()
	return res
}
