package service

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// HistoryCleaner 历史裁剪
type HistoryCleaner interface {
	Cleanup(retentionDays, maxRows int) error
}

// StartRetention 每小时按保留天数/最大行数裁剪历史。返回的 cron 由调用方 Stop。
func StartRetention(repo HistoryCleaner, retentionDays, maxRows int, log *zap.Logger) (*cron.Cron, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New()
	if retentionDays <= 0 && maxRows <= 0 {
		return c, nil
	}
	job := func() {
		if err := repo.Cleanup(retentionDays, maxRows); err != nil {
			log.Warn("history cleanup failed", zap.Error(err))
		}
	}
	if _, err := c.AddFunc("@hourly", job); err != nil {
		return nil, err
	}
	job()
	c.Start()
	return c, nil
}
