package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"levelup/internal/model"
	"levelup/pkg/logger"
	"levelup/pkg/metrics"
	"levelup/pkg/trace"
	"levelup/pkg/util"
)

var (
	ErrEmptyName    = errors.New("habit name is empty")
	ErrUnknownHabit = errors.New("unknown habit")
	ErrStoreClosed  = errors.New("tracking store is closed")
)

// RemoteStore 远端持久化服务
type RemoteStore interface {
	ListHabits(ctx context.Context) ([]model.Habit, error)
	CreateHabit(ctx context.Context, name string) (model.Habit, error)
	DeleteHabit(ctx context.Context, id model.HabitID) error
	ListChecks(ctx context.Context) (model.CheckMarks, error)
	// ToggleCheck 翻转远端打卡，返回翻转后的状态
	ToggleCheck(ctx context.Context, id model.HabitID, date string) (bool, error)
}

// SnapshotCache 最近一次成功状态的缓存，远端不可用时用于启动
type SnapshotCache interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}

// Store 会话内唯一的习惯/打卡状态持有者。
//
// 打卡切换是乐观的：本地立即翻转，远端失败时撤销本次翻转。
// 新增和删除习惯是悲观的：远端成功后才修改本地。
// 同一个键的远端切换按调用顺序执行。
type Store struct {
	remote RemoteStore
	cache  SnapshotCache // 可为 nil
	logger *zap.Logger

	mu        sync.Mutex // 串行化写操作
	state     atomic.Pointer[Snapshot]
	closed    bool
	listeners []func(Snapshot)
	// 每个键尚未得到远端结果的乐观翻转次数。
	// 不变量：本地值 = 远端值 XOR (次数为奇数)
	flips map[string]int

	notifyMu     sync.Mutex // 按写入顺序投递变化
	lastNotified *Snapshot
	saveMu       sync.Mutex

	keys     *keyQueue
	inflight sync.WaitGroup
	pending  atomic.Int64
}

// NewStore cache 可以传 nil
func NewStore(remote RemoteStore, cache SnapshotCache, logger *zap.Logger) *Store {
	s := &Store{
		remote: remote,
		cache:  cache,
		logger: logger,
		flips:  make(map[string]int),
		keys:   newKeyQueue(),
	}
	s.state.Store(emptySnapshot())
	return s
}

// Snapshot 当前状态，不加锁
func (s *Store) Snapshot() Snapshot {
	return *s.state.Load()
}

// Pending 尚未得到远端结果的打卡切换数
func (s *Store) Pending() int {
	return int(s.pending.Load())
}

// OnChange 注册状态变化回调。回调按状态变化的先后依次调用，
// 不会并发执行；回调里不能再修改 Store。
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load 从远端加载全部习惯与打卡。远端失败且缓存可用时使用缓存快照。
// 进行中的打卡切换会重新叠加在加载结果上。
func (s *Store) Load(ctx context.Context) error {
	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger)

	snap, err := s.fetch(ctx)
	if err != nil {
		log.Error("Failed to load tracking state from remote store",
			zap.Error(err),
			zap.String("error_class", util.ErrorClass(err)),
		)
		cached, ok := s.loadCached(ctx, log)
		if !ok {
			return fmt.Errorf("load tracking state: %w", err)
		}
		log.Warn("Serving cached snapshot",
			zap.Int("habits", len(cached.Habits)),
			zap.Int("checks", len(cached.Checks)),
		)
		s.replace(&cached)
		return nil
	}

	pending := s.replace(snap)
	s.saveSettled(ctx, log)

	log.Info("Tracking state loaded",
		zap.Int("habits", len(snap.Habits)),
		zap.Int("checks", len(snap.Checks)),
		zap.Int("pending_toggles", pending),
	)
	return nil
}

func (s *Store) fetch(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	habits, err := s.remote.ListHabits(ctx)
	recordRemote("list_habits", start, err)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	start = time.Now()
	checks, err := s.remote.ListChecks(ctx)
	recordRemote("list_checks", start, err)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}

	if habits == nil {
		habits = []model.Habit{}
	}
	return &Snapshot{Habits: habits, Checks: pruneOrphans(habits, checks)}, nil
}

// AddHabit 远端创建成功后追加到本地序列。名称为空时不做任何事。
func (s *Store) AddHabit(ctx context.Context, name string) (model.Habit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		metrics.IncrementHabitMutation("add", "rejected")
		return model.Habit{}, ErrEmptyName
	}
	if s.isClosed() {
		return model.Habit{}, ErrStoreClosed
	}

	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger).With(zap.String("name", name))

	start := time.Now()
	h, err := s.remote.CreateHabit(ctx, name)
	recordRemote("create_habit", start, err)
	if err == nil && h.ID == "" {
		err = errors.New("remote store returned habit without id")
	}
	if err != nil {
		metrics.IncrementHabitMutation("add", "failed")
		log.Error("Failed to add habit",
			zap.Error(err),
			zap.String("error_class", util.ErrorClass(err)),
		)
		return model.Habit{}, fmt.Errorf("add habit: %w", err)
	}

	s.mu.Lock()
	cur := s.state.Load()
	if _, dup := model.FindHabit(cur.Habits, h.ID); dup {
		s.mu.Unlock()
		metrics.IncrementHabitMutation("add", "failed")
		log.Warn("Remote store returned a duplicate habit id", zap.String("habit_id", h.ID.String()))
		return model.Habit{}, fmt.Errorf("add habit: duplicate id %q", h.ID)
	}
	s.state.Store(&Snapshot{
		Habits: append(slices.Clip(cur.Habits), h),
		Checks: cur.Checks,
	})
	s.mu.Unlock()

	s.publish()
	s.saveSettled(ctx, log)

	metrics.IncrementHabitMutation("add", "success")
	log.Info("Habit added", zap.String("habit_id", h.ID.String()))
	return h, nil
}

// DeleteHabit 远端删除成功后移除习惯及其全部打卡
func (s *Store) DeleteHabit(ctx context.Context, id model.HabitID) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger).With(zap.String("habit_id", id.String()))

	start := time.Now()
	err := s.remote.DeleteHabit(ctx, id)
	recordRemote("delete_habit", start, err)
	if err != nil {
		metrics.IncrementHabitMutation("delete", "failed")
		log.Error("Failed to delete habit",
			zap.Error(err),
			zap.String("error_class", util.ErrorClass(err)),
		)
		return fmt.Errorf("delete habit %s: %w", id, err)
	}

	s.mu.Lock()
	cur := s.state.Load()
	habits := make([]model.Habit, 0, len(cur.Habits))
	for _, h := range cur.Habits {
		if h.ID != id {
			habits = append(habits, h)
		}
	}
	next := &Snapshot{Habits: habits, Checks: cur.Checks.WithoutHabit(id)}
	s.state.Store(next)
	s.mu.Unlock()

	s.publish()
	s.saveSettled(ctx, log)

	metrics.IncrementHabitMutation("delete", "success")
	log.Info("Habit deleted",
		zap.Int("purged_checks", len(cur.Checks)-len(next.Checks)),
	)
	return nil
}

// ToggleCheck 乐观翻转 (id, date) 的打卡状态后立即返回，远端调用在后台进行。
// 返回的 channel 只会收到一个结果（nil 或错误），随后关闭；调用方可以忽略它。
// 远端成功时本地以远端返回的状态为准；失败时撤销本次翻转并记录日志，不重试。
func (s *Store) ToggleCheck(ctx context.Context, id model.HabitID, date string) <-chan error {
	result := make(chan error, 1)
	key := model.CheckKey(id, date)

	if _, err := model.ParseDate(date); err != nil {
		result <- err
		close(result)
		return result
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- ErrStoreClosed
		close(result)
		return result
	}
	cur := s.state.Load()
	if _, ok := model.FindHabit(cur.Habits, id); !ok {
		s.mu.Unlock()
		result <- fmt.Errorf("toggle check %s: %w", key, ErrUnknownHabit)
		close(result)
		return result
	}
	optimistic := !cur.Checks.Has(key)
	s.state.Store(&Snapshot{Habits: cur.Habits, Checks: cur.Checks.With(key, optimistic)})
	s.flips[key]++
	// 在写锁内排队，远端调用顺序与本地翻转顺序一致
	wait, release := s.keys.enqueue(key)
	s.inflight.Add(1)
	s.pending.Add(1)
	s.mu.Unlock()

	s.publish()

	// 调用方的取消不影响已经发出的切换，每次切换都要得到成功或失败的结论
	callCtx := trace.Ensure(context.WithoutCancel(ctx))
	log := logger.WithTrace(callCtx, s.logger).With(
		zap.String("habit_id", id.String()),
		zap.String("date", date),
	)

	go func() {
		var err error
		defer s.inflight.Done()
		// 结果最后投递：调用方收到结果时，本次切换占用的资源都已释放
		defer func() {
			s.pending.Add(-1)
			result <- err
			close(result)
		}()
		defer release()

		<-wait
		err = s.commitToggle(callCtx, log, id, key, date, optimistic)
	}()

	return result
}

// commitToggle 调用远端并根据结果对齐或撤销本地翻转
func (s *Store) commitToggle(ctx context.Context, log *zap.Logger, id model.HabitID, key, date string, optimistic bool) error {
	start := time.Now()
	checked, err := s.remote.ToggleCheck(ctx, id, date)
	recordRemote("toggle_check", start, err)
	if err != nil {
		reverted := s.undoToggle(id, key)
		metrics.IncrementToggle("rolled_back")
		log.Error("Failed to toggle check",
			zap.Error(err),
			zap.String("error_class", util.ErrorClass(err)),
			zap.Bool("optimistic_value", optimistic),
			zap.Bool("reverted", reverted),
		)
		s.saveSettled(ctx, log)
		return fmt.Errorf("toggle check %s: %w", key, err)
	}

	corrected := s.settleToggle(id, key, checked)
	metrics.IncrementToggle("committed")
	log.Debug("Check toggle committed",
		zap.Bool("checked", checked),
		zap.Bool("corrected", corrected),
	)
	s.saveSettled(ctx, log)
	return nil
}

// resolveFlip 结束 key 上最早的一次翻转，返回剩余未决次数。调用方持有 s.mu。
func (s *Store) resolveFlip(key string) int {
	n := s.flips[key] - 1
	if n <= 0 {
		delete(s.flips, key)
		return 0
	}
	s.flips[key] = n
	return n
}

// settleToggle 远端确认后把本地值对齐为远端状态，再叠加排在后面的翻转。
// 返回本地值是否被修正。
func (s *Store) settleToggle(id model.HabitID, key string, checked bool) bool {
	s.mu.Lock()
	remaining := s.resolveFlip(key)
	cur := s.state.Load()
	if _, ok := model.FindHabit(cur.Habits, id); !ok {
		s.mu.Unlock()
		return false
	}
	want := checked != (remaining%2 == 1)
	if cur.Checks.Has(key) == want {
		s.mu.Unlock()
		return false
	}
	s.state.Store(&Snapshot{Habits: cur.Habits, Checks: cur.Checks.With(key, want)})
	s.mu.Unlock()

	s.publish()
	return true
}

// undoToggle 撤销一次翻转。远端没有应用这次翻转，
// 所以撤销自身的翻转即可保持与远端一致，即便期间还有其他切换或重新加载。
// 习惯已被删除时不做任何事，避免残留打卡键。
func (s *Store) undoToggle(id model.HabitID, key string) bool {
	s.mu.Lock()
	s.resolveFlip(key)
	cur := s.state.Load()
	if _, ok := model.FindHabit(cur.Habits, id); !ok {
		s.mu.Unlock()
		return false
	}
	s.state.Store(&Snapshot{Habits: cur.Habits, Checks: cur.Checks.With(key, !cur.Checks.Has(key))})
	s.mu.Unlock()

	s.publish()
	return true
}

// Close 拒绝新的变更并等待进行中的打卡切换结束
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Tracking store closed with toggles still in flight",
			zap.Int("pending", s.Pending()),
		)
		return ctx.Err()
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// replace 整体替换状态，并把未决的翻转叠加上去。返回叠加的键数。
func (s *Store) replace(next *Snapshot) int {
	s.mu.Lock()
	applied := 0
	for key, n := range s.flips {
		if n%2 == 0 {
			continue
		}
		id, _, ok := model.ParseCheckKey(key)
		if !ok {
			continue
		}
		if _, exists := model.FindHabit(next.Habits, id); !exists {
			continue
		}
		if applied == 0 {
			next = &Snapshot{Habits: next.Habits, Checks: next.Checks.Clone(), Cached: next.Cached}
		}
		next.Checks = next.Checks.With(key, !next.Checks.Has(key))
		applied++
	}
	s.state.Store(next)
	s.mu.Unlock()

	s.publish()
	return applied
}

// publish 把当前状态投递给监听者。投递串行进行，并且总是读取最新状态，
// 所以监听者最后看到的一定是最后一次写入的结果。
func (s *Store) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap := s.state.Load()
	listeners := s.listeners
	s.mu.Unlock()

	if snap == s.lastNotified {
		return
	}
	s.lastNotified = snap
	for _, fn := range listeners {
		fn(*snap)
	}
}

func (s *Store) loadCached(ctx context.Context, log *zap.Logger) (Snapshot, bool) {
	if s.cache == nil {
		return Snapshot{}, false
	}
	snap, ok, err := s.cache.Load(ctx)
	if err != nil {
		log.Warn("Failed to read snapshot cache", zap.Error(err))
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	if snap.Habits == nil {
		snap.Habits = []model.Habit{}
	}
	snap.Checks = pruneOrphans(snap.Habits, snap.Checks)
	snap.Cached = true
	return snap, true
}

// saveSettled 没有未决翻转时把当前状态写入缓存。
// 有翻转未决时跳过，最后一个结束的切换会写入。
func (s *Store) saveSettled(ctx context.Context, log *zap.Logger) {
	if s.cache == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	settled := len(s.flips) == 0
	snap := *s.state.Load()
	s.mu.Unlock()

	if !settled || snap.Cached {
		return
	}
	if err := s.cache.Save(ctx, snap); err != nil {
		log.Warn("Failed to write snapshot cache", zap.Error(err))
	}
}

func recordRemote(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = util.ErrorClass(err)
	}
	metrics.RecordRemoteCall(operation, status, time.Since(start))
}
