package tracker

import "sync"

// 队首的切换不需要等待
var noWait = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// keyQueue 按调用顺序串行化同一个键的远端切换，空闲的键会被回收
type keyQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newKeyQueue() *keyQueue {
	return &keyQueue{tails: make(map[string]chan struct{})}
}

// enqueue 排到 key 的队尾。wait 在前一个切换结束后关闭，
// release 由本次切换结束时调用。
func (q *keyQueue) enqueue(key string) (wait <-chan struct{}, release func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev, ok := q.tails[key]
	if !ok {
		prev = noWait
	}
	mine := make(chan struct{})
	q.tails[key] = mine

	return prev, func() {
		q.mu.Lock()
		if q.tails[key] == mine {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(mine)
	}
}

func (q *keyQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
