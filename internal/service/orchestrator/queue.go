package orchestrator

import (
	"context"
	"sync"
)

// queue 无界 FIFO; push 从不阻塞, 调用方可在持有自身锁时入队。
// inflight 记录已取出但尚未 done 的任务数。
type queue struct {
	mu       sync.Mutex
	items    []Task
	inflight int
	notify   chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(t Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop 阻塞直到有任务或 ctx 结束; 取出的任务需调用 done。
func (q *queue) pop(ctx context.Context) (Task, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = Task{}
			q.items = q.items[1:]
			q.inflight++
			q.mu.Unlock()
			return t, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, false
		case <-q.notify:
		}
	}
}

func (q *queue) done() {
	q.mu.Lock()
	q.inflight--
	q.mu.Unlock()
}

// idle 队列为空且没有正在执行的任务。
func (q *queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inflight == 0
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
