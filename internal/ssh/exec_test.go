package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	gssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

const testPassword = "s3cret"

type testServer struct {
	host    string
	port    int
	hostKey gssh.PublicKey
	close   func()
}

// startTestSSHServer 启动一个本地 SSH 服务，按命令返回固定输出
func startTestSSHServer(t *testing.T, authorizedKey gssh.PublicKey) *testServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := gssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &gssh.ServerConfig{
		PasswordCallback: func(_ gssh.ConnMetadata, pass []byte) (*gssh.Permissions, error) {
			if string(pass) == testPassword {
				return &gssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("bad password")
		},
		PublicKeyCallback: func(_ gssh.ConnMetadata, key gssh.PublicKey) (*gssh.Permissions, error) {
			if authorizedKey != nil && gssh.FingerprintSHA256(key) == gssh.FingerprintSHA256(authorizedKey) {
				return &gssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := listener.Accept()
			if err != nil {
				return
			}
			go handleTestConn(c, cfg)
		}
	}()
	addr := listener.Addr().(*net.TCPAddr)
	srv := &testServer{host: "127.0.0.1", port: addr.Port, hostKey: hostSigner.PublicKey()}
	srv.close = func() {
		listener.Close()
		<-done
	}
	t.Cleanup(srv.close)
	return srv
}

func handleTestConn(netConn net.Conn, cfg *gssh.ServerConfig) {
	sshConn, chans, reqs, err := gssh.NewServerConn(netConn, cfg)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go gssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					if req.WantReply {
						req.Reply(false, nil)
					}
					continue
				}
				var payload struct{ Command string }
				_ = gssh.Unmarshal(req.Payload, &payload)
				if req.WantReply {
					req.Reply(true, nil)
				}
				status := uint32(0)
				switch payload.Command {
				case "uptime":
					ch.Write([]byte("  10:00:00 up 3 days,  load average: 0.00\n\n"))
				case "df -h":
					ch.Stderr().Write([]byte("disk full\n"))
					status = 1
				case "true":
				default:
					ch.Stderr().Write([]byte("sh: command not found\n"))
					status = 127
				}
				ch.SendRequest("exit-status", false, gssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

// writeClientKey 生成客户端私钥文件，返回路径与公钥
func writeClientKey(t *testing.T) (string, gssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := gssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
	sshPub, err := gssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return path, sshPub
}

func TestExecutor_PublicKey(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := startTestSSHServer(t, pub)
	e := NewExecutor(Options{ConnectTimeout: 5 * time.Second}, nil)

	res := e.Execute(context.Background(), srv.host, srv.port, "root", domain.KeyFile{Path: keyPath}, "uptime")
	if !res.Succeeded() {
		t.Fatalf("expected success, got %v: %v", res.Kind, res.Err)
	}
	if got := res.Text(); got != "10:00:00 up 3 days,  load average: 0.00" {
		t.Fatalf("unexpected text %q", got)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code %d", res.ExitCode)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("timings not recorded")
	}
}

func TestExecutor_PasswordAndOutputPolicy(t *testing.T) {
	srv := startTestSSHServer(t, nil)
	e := NewExecutor(Options{ConnectTimeout: 5 * time.Second}, nil)
	cred := domain.Password{Secret: testPassword}

	res := e.Execute(context.Background(), srv.host, srv.port, "root", cred, "df -h")
	if !res.Succeeded() {
		t.Fatalf("non-zero exit must not be a failure: %v", res.Err)
	}
	if res.ExitCode != 1 {
		t.Fatalf("exit code %d", res.ExitCode)
	}
	if got := res.Text(); got != "Error: disk full" {
		t.Fatalf("got %q", got)
	}

	res = e.Execute(context.Background(), srv.host, srv.port, "root", cred, "true")
	if got := res.Text(); got != domain.NoOutputText {
		t.Fatalf("got %q", got)
	}
}

func TestExecutor_AuthFailure(t *testing.T) {
	srv := startTestSSHServer(t, nil)
	e := NewExecutor(Options{ConnectTimeout: 5 * time.Second}, nil)

	res := e.Execute(context.Background(), srv.host, srv.port, "root", domain.Password{Secret: "wrong"}, "uptime")
	if res.Kind != domain.FailureAuth {
		t.Fatalf("expected auth failure, got %v: %v", res.Kind, res.Err)
	}
	if res.Text() != domain.AuthFailedText {
		t.Fatalf("got %q", res.Text())
	}
}

func TestExecutor_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	e := NewExecutor(Options{ConnectTimeout: 2 * time.Second}, nil)
	res := e.Execute(context.Background(), "127.0.0.1", port, "root", domain.Password{Secret: "x"}, "uptime")
	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.Kind != domain.FailureUnknown {
		t.Fatalf("expected unknown failure, got %v", res.Kind)
	}
}

func TestExecutor_ProtocolFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
			c.Close()
		}
	}()

	e := NewExecutor(Options{ConnectTimeout: 2 * time.Second}, nil)
	res := e.Execute(context.Background(), "127.0.0.1", l.Addr().(*net.TCPAddr).Port, "root", domain.Password{Secret: "x"}, "uptime")
	if res.Kind != domain.FailureConnection {
		t.Fatalf("expected connection failure, got %v: %v", res.Kind, res.Err)
	}
}

func TestExecutor_HangingHostTimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	var held []net.Conn
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			held = append(held, c) // 不回应握手
		}
	}()

	e := NewExecutor(Options{ConnectTimeout: 300 * time.Millisecond}, nil)
	start := time.Now()
	res := e.Execute(context.Background(), "127.0.0.1", l.Addr().(*net.TCPAddr).Port, "root", domain.Password{Secret: "x"}, "uptime")
	if res.Kind != domain.FailureUnknown {
		t.Fatalf("expected unknown failure on timeout, got %v: %v", res.Kind, res.Err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced: %v", time.Since(start))
	}
}

func TestExecutor_MissingKeyFile(t *testing.T) {
	e := NewExecutor(Options{}, nil)
	res := e.Execute(context.Background(), "127.0.0.1", 22, "root", domain.KeyFile{Path: filepath.Join(t.TempDir(), "nope")}, "uptime")
	if res.Kind != domain.FailureUnknown {
		t.Fatalf("expected unknown failure, got %v", res.Kind)
	}
}

func TestExecutor_NoHost(t *testing.T) {
	e := NewExecutor(Options{}, nil)
	res := e.Execute(context.Background(), "", 22, "root", domain.Password{Secret: "x"}, "uptime")
	if res.Succeeded() || res.Text() == "" {
		t.Fatalf("expected descriptive failure, got %+v", res)
	}
}

func TestHostKeyCallback_KnownHosts(t *testing.T) {
	srv := startTestSSHServer(t, nil)
	addr := net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
	dir := t.TempDir()

	good := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(good, []byte(knownhosts.Line([]string{addr}, srv.hostKey)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cb, err := HostKeyCallback(HostKeyKnownHosts, good)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	e := NewExecutor(Options{ConnectTimeout: 5 * time.Second, HostKeyCallback: cb}, nil)
	res := e.Execute(context.Background(), srv.host, srv.port, "root", domain.Password{Secret: testPassword}, "uptime")
	if !res.Succeeded() {
		t.Fatalf("expected success with known host, got %v", res.Err)
	}

	_, otherPub := writeClientKey(t)
	bad := filepath.Join(dir, "known_hosts_bad")
	if err := os.WriteFile(bad, []byte(knownhosts.Line([]string{addr}, otherPub)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cb, err = HostKeyCallback(HostKeyKnownHosts, bad)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	e = NewExecutor(Options{ConnectTimeout: 5 * time.Second, HostKeyCallback: cb}, nil)
	res = e.Execute(context.Background(), srv.host, srv.port, "root", domain.Password{Secret: testPassword}, "uptime")
	if res.Kind != domain.FailureConnection {
		t.Fatalf("expected connection failure on key mismatch, got %v: %v", res.Kind, res.Err)
	}
}

func TestHostKeyCallback_Policies(t *testing.T) {
	if _, err := HostKeyCallback(HostKeyAcceptNew, ""); err != nil {
		t.Fatalf("accept-new: %v", err)
	}
	if _, err := HostKeyCallback("trust-me", ""); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if _, err := HostKeyCallback(HostKeyKnownHosts, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing known_hosts")
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	e := NewExecutor(Options{ConnectTimeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, "127.0.0.1", 22, "root", domain.Password{Secret: "x"}, "uptime")
	if res.Kind != domain.FailureUnknown || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected canceled failure, got %v: %v", res.Kind, res.Err)
	}
	if res.FinishedAt.IsZero() {
		t.Fatal("FinishedAt not set")
	}
}
