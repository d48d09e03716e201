package domain

import "time"

// ExecHistory 单次命令下发的审计记录：只记录谁在哪台实例上执行了什么、结果分类与耗时，
// 不保存命令输出，也不含任何凭据
type ExecHistory struct {
	ID         int64     `json:"id"`
	DispatchID string    `json:"dispatch_id"`
	InstanceID int64     `json:"instance_id"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	AuthMethod string    `json:"auth_method"`
	Bulk       bool      `json:"bulk"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Failure    string    `json:"failure"` // FailureKind.String()
	ErrorText  string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}
