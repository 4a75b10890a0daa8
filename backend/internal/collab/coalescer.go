package collab

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// 房间成员视图，由 room.Registry 提供
type Memberships interface {
	MembersOf(docID string) []string
}

type CoalescerOptions struct {
	// 滑动去抖窗口：窗口内每来一次编辑就重新计时（参考值 25ms）
	Debounce time.Duration
	// 单次提交的时间上限，超时按可重试失败处理
	CommitTimeout time.Duration
	// 并发提交上限（0 表示不限制）
	MaxConcurrentCommits int
}

// Coalescer：按 FieldKey 合并突发编辑（如连续击键）为一次落库写入。
// 不变式：每个 FieldKey 同一时刻最多一个 PendingWrite，且同一键不会有两次提交同时在途——
// 注册表条目只在上一次提交完全 resolve 之后才被移除/替换。
type Coalescer struct {
	mu      sync.Mutex
	pending map[FieldKey]*PendingWrite

	gateway  Gateway
	resolver *Resolver
	rooms    Memberships
	sem      *SemaphoreControl

	debounce      time.Duration
	commitTimeout time.Duration
}

func NewCoalescer(gateway Gateway, resolver *Resolver, rooms Memberships, opt CoalescerOptions) *Coalescer {
	if opt.Debounce <= 0 {
		opt.Debounce = 25 * time.Millisecond
	}
	if opt.CommitTimeout <= 0 {
		opt.CommitTimeout = 5 * time.Second
	}
	c := &Coalescer{
		pending:       make(map[FieldKey]*PendingWrite),
		gateway:       gateway,
		resolver:      resolver,
		rooms:         rooms,
		debounce:      opt.Debounce,
		commitTimeout: opt.CommitTimeout,
	}
	if opt.MaxConcurrentCommits > 0 {
		c.sem = NewSemaphoreControl(opt.MaxConcurrentCommits)
	}
	return c
}

// Submit 接收一次已通过房间校验的字段编辑。
// - 键空闲：创建 PendingWrite 并武装计时器
// - 窗口内：覆盖值、追加贡献者、重置计时器（滑动去抖）
// - 提交在途：吸收进 next 槽，待当前提交 resolve 后接棒
func (c *Coalescer) Submit(key FieldKey, value any, clientTS int64, operationID, originConnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pw, ok := c.pending[key]
	if !ok {
		pw = newPendingWrite(key, value, clientTS, operationID, originConnID)
		c.pending[key] = pw
		c.arm(pw)
		return
	}

	switch pw.state {
	case stateBuffering:
		if !pw.timer.Stop() {
			// 计时器已触发、其 flush 正堵在锁外等待认领：
			// 吸收后不再续窗，这次的值会随那次 flush 立即提交（窗口提前收口）
			pw.absorb(value, clientTS, operationID, originConnID)
			return
		}
		pw.absorb(value, clientTS, operationID, originConnID)
		c.arm(pw)
	case stateFlushing:
		if pw.next == nil {
			pw.next = newPendingWrite(key, value, clientTS, operationID, originConnID)
		} else {
			pw.next.absorb(value, clientTS, operationID, originConnID)
		}
	}
}

// arm 武装去抖计时器。计时器回调持有 pw 本身的引用，
// 触发时提交的就是这个对象，而不是回调里重新查表——
// 避免重查与删除竞态导致丢掉一次合并结果。
func (c *Coalescer) arm(pw *PendingWrite) {
	pw.timer = time.AfterFunc(c.debounce, func() { c.flush(pw) })
}

func (c *Coalescer) flush(pw *PendingWrite) {
	c.mu.Lock()
	// 计时器触发与 Submit 重置计时器可能竞争：
	// 若另一次 flush 已认领（或条目已 resolve），这里直接退出，保证同键单飞。
	if pw.state != stateBuffering {
		c.mu.Unlock()
		return
	}
	pw.state = stateFlushing
	key := pw.Key
	value := pw.Value
	clientTS := pw.ClientTS
	c.mu.Unlock()

	serverTS, err := c.commit(key, value, clientTS)

	members := c.rooms.MembersOf(key.DocID)
	c.resolver.Resolve(pw, serverTS, err, members)

	// resolve 完成之后才移除注册表条目；若提交期间有新编辑，提升 next 并重新计时
	c.mu.Lock()
	if next := pw.next; next != nil {
		c.pending[key] = next
		c.arm(next)
	} else {
		delete(c.pending, key)
	}
	c.mu.Unlock()
}

func (c *Coalescer) commit(key FieldKey, value any, clientTS int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.commitTimeout)
	defer cancel()

	if c.sem != nil {
		if err := c.sem.Acquire(ctx); err != nil {
			// 信号量等待超时：按可重试失败处理
			return 0, fmt.Errorf("commit backpressure: %w", err)
		}
		defer func() {
			if err := c.sem.Release(); err != nil {
				log.Printf("semaphore release error: %v", err)
			}
		}()
	}

	return c.gateway.CommitField(ctx, key.DocID, key.EntityID, key.FieldID, value, clientTS)
}

// PendingCount 当前缓冲中的键数量（观测用）。
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
