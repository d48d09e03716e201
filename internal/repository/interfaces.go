package repository

import "github.com/QingMing-Bot/clore-ops-bot/internal/domain"

// HistoryRepoIface 抽象历史仓库，main 按此接口装配写入、裁剪与查询。
type HistoryRepoIface interface {
	Insert(*domain.ExecHistory) error
	ListFiltered(int, string, string) ([]domain.ExecHistory, error)
	Cleanup(int, int) error
	EnsureSchema() error
}

// 编译期断言本地实现满足接口
var _ HistoryRepoIface = (*HistoryRepo)(nil)
