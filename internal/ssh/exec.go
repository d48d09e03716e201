package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	gssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
	"github.com/QingMing-Bot/clore-ops-bot/pkg/logutil"
)

const defaultConnectTimeout = 10 * time.Second

// 主机密钥校验策略
const (
	HostKeyAcceptNew  = "accept-new"  // 首次信任，不校验主机身份
	HostKeyKnownHosts = "known-hosts" // 按 known_hosts 文件校验
)

// HostKeyCallback 根据配置的策略构造主机密钥回调。
func HostKeyCallback(policy, knownHostsPath string) (gssh.HostKeyCallback, error) {
	switch policy {
	case "", HostKeyAcceptNew:
		return gssh.InsecureIgnoreHostKey(), nil
	case HostKeyKnownHosts:
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)
		}
		return cb, nil
	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}
}

// Options 执行器参数
type Options struct {
	ConnectTimeout  time.Duration
	HostKeyCallback gssh.HostKeyCallback
}

// Executor 每次调用建立一条 SSH 连接、执行一条命令、然后无条件关闭连接。
// 任何失败都被归类并写入结果，不会向上抛出。并发上限由调用方控制。
type Executor struct {
	timeout time.Duration
	hostKey gssh.HostKeyCallback
	log     *zap.Logger
}

func NewExecutor(opts Options, log *zap.Logger) *Executor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = gssh.InsecureIgnoreHostKey()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{timeout: opts.ConnectTimeout, hostKey: opts.HostKeyCallback, log: log}
}

// Execute 在 host:port 上以 user 身份执行 cmd。
func (e *Executor) Execute(ctx context.Context, host string, port int, user string, cred domain.Credential, cmd string) (res domain.ExecResult) {
	res = domain.ExecResult{Host: host, Port: port, ExitCode: -1, StartedAt: time.Now()}
	defer func() { res.FinishedAt = time.Now() }()

	if err := ctx.Err(); err != nil {
		return fail(res, domain.FailureUnknown, err)
	}
	if host == "" {
		return fail(res, domain.FailureUnknown, errors.New("instance has no public host"))
	}
	if strings.TrimSpace(cmd) == "" {
		return fail(res, domain.FailureUnknown, errors.New("empty command"))
	}

	if cred == nil {
		return fail(res, domain.FailureUnknown, errors.New("no credential"))
	}
	auth, kind, err := authMethods(cred)
	if err != nil {
		return fail(res, kind, err)
	}
	conf := &gssh.ClientConfig{User: user, Auth: auth, HostKeyCallback: e.hostKey, Timeout: e.timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log := e.log.With(zap.String("addr", logutil.SanitizeForLog(addr)), zap.String("auth", string(cred.Method())))

	client, err := e.dial(ctx, addr, conf)
	if err != nil {
		kind := classify(err)
		log.Warn("ssh connect failed", zap.Stringer("kind", kind), zap.Error(err))
		return fail(res, kind, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		log.Warn("ssh open session failed", zap.Error(err))
		return fail(res, domain.FailureConnection, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		// 关闭底层连接以中断 Run
		_ = client.Close()
		<-done
		res.Stdout, res.Stderr = stdout.String(), stderr.String()
		log.Warn("ssh command aborted", zap.Error(ctx.Err()))
		return fail(res, domain.FailureUnknown, ctx.Err())
	case err = <-done:
	}

	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	var exitErr *gssh.ExitError
	var missing *gssh.ExitMissingError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.As(err, &missing):
		// 远端未返回退出码，输出已完整读取
	default:
		log.Warn("ssh command failed", zap.Error(err))
		return fail(res, domain.FailureConnection, err)
	}
	log.Debug("ssh command finished", zap.Int("exit_code", res.ExitCode))
	return res
}

// dial 在连接超时内完成 TCP 建连和 SSH 握手，慢主机不会拖住调用方。
func (e *Executor) dial(ctx context.Context, addr string, conf *gssh.ClientConfig) (*gssh.Client, error) {
	d := net.Dialer{Timeout: e.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(e.timeout))
	c, chans, reqs, err := gssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return gssh.NewClient(c, chans, reqs), nil
}

func authMethods(cred domain.Credential) ([]gssh.AuthMethod, domain.FailureKind, error) {
	switch c := cred.(type) {
	case domain.Password:
		return []gssh.AuthMethod{gssh.Password(c.Secret)}, domain.FailureNone, nil
	case domain.KeyFile:
		keyData, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, domain.FailureUnknown, fmt.Errorf("read private key: %w", err)
		}
		signer, err := gssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, domain.FailureConnection, fmt.Errorf("parse private key: %w", err)
		}
		return []gssh.AuthMethod{gssh.PublicKeys(signer)}, domain.FailureNone, nil
	default:
		return nil, domain.FailureUnknown, errors.New("no credential")
	}
}

// classify 将建连错误映射到失败分类：认证失败、握手/协议失败、其它（含超时、拒绝连接）。
func classify(err error) domain.FailureKind {
	if err == nil {
		return domain.FailureNone
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.FailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.FailureUnknown
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout"):
		return domain.FailureUnknown
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "no supported methods remain"):
		return domain.FailureAuth
	case strings.HasPrefix(msg, "ssh: "), strings.Contains(msg, "knownhosts:"):
		return domain.FailureConnection
	}
	return domain.FailureUnknown
}

func fail(res domain.ExecResult, kind domain.FailureKind, err error) domain.ExecResult {
	res.Kind = kind
	res.Err = err
	return res
}
