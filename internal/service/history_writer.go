package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

// HistoryInserter 历史写入目标
type HistoryInserter interface {
	Insert(*domain.ExecHistory) error
}

// HistoryWriter 异步批量写入执行历史，写入失败只记日志，不影响命令执行
type HistoryWriter struct {
	repo          HistoryInserter
	ch            chan domain.ExecHistory
	stop          chan struct{}
	flushInterval time.Duration
	batchSize     int
	wg            sync.WaitGroup
	closeOnce     sync.Once
	log           *zap.Logger
}

func NewHistoryWriter(repo HistoryInserter, flushSec int, batchSize int, log *zap.Logger) *HistoryWriter {
	if flushSec <= 0 {
		flushSec = 2
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	hw := &HistoryWriter{
		repo:          repo,
		ch:            make(chan domain.ExecHistory, batchSize*4),
		stop:          make(chan struct{}),
		flushInterval: time.Duration(flushSec) * time.Second,
		batchSize:     batchSize,
		log:           log,
	}
	hw.wg.Add(1)
	go hw.loop()
	return hw
}

func (w *HistoryWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	batch := make([]domain.ExecHistory, 0, w.batchSize)
	flush := func() {
		for i := range batch {
			h := batch[i]
			if err := w.repo.Insert(&h); err != nil {
				w.log.Warn("history insert failed", zap.Int64("instance_id", h.InstanceID), zap.Error(err))
			}
		}
		batch = batch[:0]
	}
	for {
		select {
		case h := <-w.ch:
			batch = append(batch, h)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		case <-w.stop:
			// 排空缓冲区后退出
			for {
				select {
				case h := <-w.ch:
					batch = append(batch, h)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *HistoryWriter) Write(h domain.ExecHistory) {
	select {
	case w.ch <- h:
	default:
		w.log.Warn("history buffer full, record dropped", zap.Int64("instance_id", h.InstanceID))
	}
}

func (w *HistoryWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
}
