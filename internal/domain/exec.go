package domain

import (
	"fmt"
	"strings"
	"time"
)

// AuthMethod 会话中选定的认证方式
type AuthMethod string

const (
	AuthPassword  AuthMethod = "password"
	AuthPublicKey AuthMethod = "public_key"
)

// Credential 是 Password | KeyFile 的标签联合，只能由本包内的类型实现。
type Credential interface {
	Method() AuthMethod
	credential()
}

// Password 仅保存在内存中，不落盘
type Password struct{ Secret string }

// KeyFile 私钥文件路径
type KeyFile struct{ Path string }

func (Password) Method() AuthMethod { return AuthPassword }
func (Password) credential()        {}
func (KeyFile) Method() AuthMethod  { return AuthPublicKey }
func (KeyFile) credential()         {}

// String 避免密码出现在日志里
func (p Password) String() string { return "Password(***)" }

// FailureKind 远程执行失败分类
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureAuth
	FailureConnection
	FailureUnknown
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureAuth:
		return "auth"
	case FailureConnection:
		return "connection"
	default:
		return "unknown"
	}
}

const (
	NoOutputText   = "Command executed, but there was no output."
	AuthFailedText = "Authentication failed, please verify your credentials."
)

// ExecResult 单台主机的一次执行结果，只用于生成回复文本和历史记录
type ExecResult struct {
	InstanceID int64
	Host       string
	Port       int
	Stdout     string
	Stderr     string
	ExitCode   int
	Kind       FailureKind
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r ExecResult) Succeeded() bool { return r.Kind == FailureNone }

// Text 按 stdout > "Error: "+stderr > 无输出提示 的顺序给出回复文本；失败时返回可读的错误描述。
func (r ExecResult) Text() string {
	switch r.Kind {
	case FailureNone:
	case FailureAuth:
		return AuthFailedText
	case FailureConnection:
		return fmt.Sprintf("Unable to establish SSH connection: %s", errText(r.Err))
	default:
		return fmt.Sprintf("An error occurred while connecting: %s", errText(r.Err))
	}
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}
	if e := strings.TrimSpace(r.Stderr); e != "" {
		return "Error: " + e
	}
	return NoOutputText
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
