package telegram

import "sync"

// lanes 按 key 串行执行任务，不同 key 之间并发。队列清空后 worker 退出。
type lanes struct {
	mu     sync.Mutex
	queues map[int64][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[int64][]func())}
}

func (l *lanes) push(key int64, fn func()) {
	l.mu.Lock()
	q, active := l.queues[key]
	l.queues[key] = append(q, fn)
	if !active {
		l.wg.Add(1)
		go l.drain(key)
	}
	l.mu.Unlock()
}

func (l *lanes) drain(key int64) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		l.queues[key] = q[1:]
		l.mu.Unlock()
		fn()
	}
}

func (l *lanes) wait() { l.wg.Wait() }
