package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"levelup/internal/model"
	"levelup/pkg/metrics"
)

var errRemote = errors.New("remote unavailable")

// fakeRemote 内存版远端存储，行为与参考服务一致
type fakeRemote struct {
	mu     sync.Mutex
	habits []model.Habit
	checks model.CheckMarks
	nextID int

	listErr   error
	createErr error
	deleteErr error
	// 按调用顺序消费的切换错误，耗尽后一律成功
	toggleErrs []error
	// 按键固定失败的切换
	toggleErrFor map[string]error
	// 非 nil 时切换调用在此阻塞
	gate chan struct{}

	createCalls int
	toggleCalls int
	active      map[string]int
	maxActive   int
}

func newFakeRemote(habits ...model.Habit) *fakeRemote {
	return &fakeRemote{
		habits: habits,
		checks: model.CheckMarks{},
		nextID: 100,
		active: map[string]int{},
	}
}

func (f *fakeRemote) ListHabits(ctx context.Context) ([]model.Habit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Habit(nil), f.habits...), nil
}

func (f *fakeRemote) CreateHabit(ctx context.Context, name string) (model.Habit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return model.Habit{}, f.createErr
	}
	f.nextID++
	h := model.Habit{ID: model.HabitID(strconv.Itoa(f.nextID)), Name: name}
	f.habits = append(f.habits, h)
	return h, nil
}

func (f *fakeRemote) DeleteHabit(ctx context.Context, id model.HabitID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.checks = f.checks.WithoutHabit(id)
	for i, h := range f.habits {
		if h.ID == id {
			f.habits = append(f.habits[:i:i], f.habits[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRemote) ListChecks(ctx context.Context) (model.CheckMarks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.checks.Clone(), nil
}

func (f *fakeRemote) ToggleCheck(ctx context.Context, id model.HabitID, date string) (bool, error) {
	key := model.CheckKey(id, date)

	f.mu.Lock()
	f.toggleCalls++
	f.active[key]++
	if f.active[key] > f.maxActive {
		f.maxActive = f.active[key]
	}
	var err error
	if len(f.toggleErrs) > 0 {
		err = f.toggleErrs[0]
		f.toggleErrs = f.toggleErrs[1:]
	}
	if keyErr, ok := f.toggleErrFor[key]; ok {
		err = keyErr
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	} else {
		time.Sleep(time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[key]--
	if err != nil {
		return false, err
	}
	f.checks = f.checks.With(key, !f.checks.Has(key))
	return f.checks.Has(key), nil
}

func (f *fakeRemote) serverChecks() model.CheckMarks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks.Clone()
}

// memCache 内存快照缓存
type memCache struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

func (c *memCache) Save(ctx context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = &snap
	c.saves++
	return nil
}

func (c *memCache) Load(ctx context.Context) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return Snapshot{}, false, nil
	}
	return *c.snap, true, nil
}

func newLoadedStore(t *testing.T, remote *fakeRemote) *Store {
	t.Helper()
	s := NewStore(remote, nil, zap.NewNop())
	require.NoError(t, s.Load(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("toggle did not resolve")
		return nil
	}
}

func TestLoadPrunesOrphanChecks(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a", Name: "Read"})
	remote.checks = model.CheckMarks{"a-2024-01-01": true, "z-2024-01-01": true, "garbage": true}

	s := newLoadedStore(t, remote)
	snap := s.Snapshot()

	assert.Equal(t, []model.Habit{{ID: "a", Name: "Read"}}, snap.Habits)
	assert.Equal(t, model.CheckMarks{"a-2024-01-01": true}, snap.Checks)
	assert.False(t, snap.Cached)
}

func TestLoadFailureWithoutCache(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = errRemote

	s := NewStore(remote, nil, zap.NewNop())
	err := s.Load(context.Background())
	assert.ErrorIs(t, err, errRemote)
	assert.Empty(t, s.Snapshot().Habits)
}

func TestLoadFallsBackToCache(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a", Name: "Read"})
	remote.checks = model.CheckMarks{"a-2024-01-01": true}
	cache := &memCache{}

	first := NewStore(remote, cache, zap.NewNop())
	require.NoError(t, first.Load(context.Background()))
	require.Equal(t, 1, cache.saves)

	remote.listErr = errRemote
	second := NewStore(remote, cache, zap.NewNop())
	require.NoError(t, second.Load(context.Background()))

	snap := second.Snapshot()
	assert.True(t, snap.Cached)
	assert.Equal(t, model.HabitID("a"), snap.Habits[0].ID)
	assert.True(t, snap.Checked("a", "2024-01-01"))
}

func TestAddHabitAppendsServerHabit(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a", Name: "Read"})
	s := newLoadedStore(t, remote)

	before := testutil.ToFloat64(metrics.HabitMutationCount.WithLabelValues("add", "success"))
	h, err := s.AddHabit(context.Background(), "  Cold Shower ")
	require.NoError(t, err)

	assert.Equal(t, model.HabitID("101"), h.ID)
	assert.Equal(t, "Cold Shower", h.Name)
	snap := s.Snapshot()
	require.Len(t, snap.Habits, 2)
	assert.Equal(t, h, snap.Habits[1])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HabitMutationCount.WithLabelValues("add", "success")))
}

func TestAddHabitEmptyNameIsNoop(t *testing.T) {
	remote := newFakeRemote()
	s := newLoadedStore(t, remote)

	_, err := s.AddHabit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.Equal(t, 0, remote.createCalls)
	assert.Empty(t, s.Snapshot().Habits)
}

func TestAddHabitRemoteFailureLeavesState(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a", Name: "Read"})
	s := newLoadedStore(t, remote)
	remote.createErr = errRemote

	before := s.Snapshot()
	_, err := s.AddHabit(context.Background(), "Run")
	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, before.Habits, s.Snapshot().Habits)
}

func TestDeleteHabitPurgesChecks(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"}, model.Habit{ID: "b"})
	remote.checks = model.CheckMarks{"a-2024-01-01": true, "b-2024-01-01": true}
	s := newLoadedStore(t, remote)

	require.NoError(t, s.DeleteHabit(context.Background(), "a"))

	snap := s.Snapshot()
	assert.Equal(t, []model.Habit{{ID: "b"}}, snap.Habits)
	assert.Equal(t, model.CheckMarks{"b-2024-01-01": true}, snap.Checks)
}

func TestDeleteHabitRemoteFailureLeavesState(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.checks = model.CheckMarks{"a-2024-01-01": true}
	s := newLoadedStore(t, remote)
	remote.deleteErr = errRemote

	err := s.DeleteHabit(context.Background(), "a")
	assert.ErrorIs(t, err, errRemote)

	snap := s.Snapshot()
	assert.Len(t, snap.Habits, 1)
	assert.True(t, snap.Checked("a", "2024-01-01"))
}

func TestToggleCheckIsOptimistic(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.gate = make(chan struct{})
	s := newLoadedStore(t, remote)

	before := s.Snapshot()
	done := s.ToggleCheck(context.Background(), "a", "2024-01-01")

	// 远端尚未返回，本地已经翻转
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))
	assert.Equal(t, 1, s.Pending())
	assert.False(t, before.Checked("a", "2024-01-01"), "earlier snapshots are never mutated")

	close(remote.gate)
	require.NoError(t, await(t, done))
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))
	assert.Equal(t, 0, s.Pending())
	assert.True(t, remote.serverChecks().Has("a-2024-01-01"))
}

func TestToggleCheckRollbackOnFailure(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	before := testutil.ToFloat64(metrics.CheckToggleCount.WithLabelValues("rolled_back"))
	err := await(t, s.ToggleCheck(context.Background(), "a", "2024-01-01"))
	assert.ErrorIs(t, err, errRemote)

	snap := s.Snapshot()
	_, present := snap.Checks["a-2024-01-01"]
	assert.False(t, present, "rolled back to absent, never true")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CheckToggleCount.WithLabelValues("rolled_back")))
}

func TestToggleCheckRollbackRestoresTrue(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.checks = model.CheckMarks{"a-2024-01-01": true}
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	err := await(t, s.ToggleCheck(context.Background(), "a", "2024-01-01"))
	assert.Error(t, err)
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))
}

func TestToggleTwiceRestoresOriginal(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	s := newLoadedStore(t, remote)

	first := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	second := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	require.NoError(t, await(t, first))
	require.NoError(t, await(t, second))

	assert.False(t, s.Snapshot().Checked("a", "2024-01-01"))
	assert.False(t, remote.serverChecks().Has("a-2024-01-01"))
}

func TestRapidToggleWithFailureStaysConsistent(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	first := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	second := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	errs := []error{await(t, first), await(t, second)}

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	require.Equal(t, 1, failures)

	// 一次成功一次失败：远端翻转一次，本地必须与之一致
	assert.True(t, remote.serverChecks().Has("a-2024-01-01"))
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))
}

func TestTogglesSerializedPerKey(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"}, model.Habit{ID: "b"})
	s := newLoadedStore(t, remote)

	var results []<-chan error
	for i := 0; i < 9; i++ {
		results = append(results, s.ToggleCheck(context.Background(), "a", "2024-01-01"))
		results = append(results, s.ToggleCheck(context.Background(), "b", fmt.Sprintf("2024-01-%02d", i+1)))
	}
	for _, ch := range results {
		require.NoError(t, await(t, ch))
	}

	remote.mu.Lock()
	assert.Equal(t, 1, remote.maxActive, "same-key remote toggles must not overlap")
	assert.Equal(t, 18, remote.toggleCalls)
	remote.mu.Unlock()

	snap := s.Snapshot()
	assert.True(t, snap.Checked("a", "2024-01-01"), "odd number of toggles")
	assert.Equal(t, 10, snap.Checks.Count())
	assert.Equal(t, remote.serverChecks(), snap.Checks)
	assert.Equal(t, 0, s.keys.size())
}

func TestTogglesReachRemoteInCallOrder(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	// 只有第一次远端调用失败；按调用顺序执行时失败的是第一次切换
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	var results []<-chan error
	for i := 0; i < 5; i++ {
		results = append(results, s.ToggleCheck(context.Background(), "a", "2024-01-01"))
	}

	assert.ErrorIs(t, await(t, results[0]), errRemote)
	for _, ch := range results[1:] {
		require.NoError(t, await(t, ch))
	}

	// 四次成功切换，远端回到 false，本地一致
	assert.False(t, remote.serverChecks().Has("a-2024-01-01"))
	assert.Equal(t, remote.serverChecks(), s.Snapshot().Checks)
}

func TestReloadDuringFailedToggleKeepsRollback(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.gate = make(chan struct{})
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	done := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"), "reload keeps the pending flip")

	close(remote.gate)
	assert.ErrorIs(t, await(t, done), errRemote)

	_, present := s.Snapshot().Checks["a-2024-01-01"]
	assert.False(t, present, "failed toggle of an absent key ends absent")
	assert.False(t, remote.serverChecks().Has("a-2024-01-01"))
}

func TestReloadDuringCommittedToggleKeepsFlip(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.gate = make(chan struct{})
	s := newLoadedStore(t, remote)

	done := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))

	close(remote.gate)
	require.NoError(t, await(t, done))

	assert.True(t, remote.serverChecks().Has("a-2024-01-01"))
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))
}

func TestToggleCommitSettlesToRemoteValue(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	s := newLoadedStore(t, remote)

	// 另一端已经打卡，本地还是旧状态
	remote.mu.Lock()
	remote.checks = model.CheckMarks{"a-2024-01-01": true}
	remote.mu.Unlock()

	require.NoError(t, await(t, s.ToggleCheck(context.Background(), "a", "2024-01-01")))

	assert.False(t, remote.serverChecks().Has("a-2024-01-01"))
	assert.False(t, s.Snapshot().Checked("a", "2024-01-01"), "local follows the remote result")
}

func TestRollbackSkippedAfterDelete(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.gate = make(chan struct{})
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	done := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	require.NoError(t, s.DeleteHabit(context.Background(), "a"))
	close(remote.gate)

	assert.Error(t, await(t, done))
	assert.Empty(t, s.Snapshot().Checks, "no orphan key resurrected")
}

func TestToggleCheckValidation(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	s := newLoadedStore(t, remote)

	err := await(t, s.ToggleCheck(context.Background(), "zzz", "2024-01-01"))
	assert.ErrorIs(t, err, ErrUnknownHabit)

	err = await(t, s.ToggleCheck(context.Background(), "a", "yesterday"))
	assert.Error(t, err)

	assert.Empty(t, s.Snapshot().Checks)
	assert.Equal(t, 0, remote.toggleCalls)
}

func TestOnChangeSeesOptimisticAndRevertedStates(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.toggleErrs = []error{errRemote}
	s := newLoadedStore(t, remote)

	var mu sync.Mutex
	var seen []bool
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, snap.Checked("a", "2024-01-01"))
	})

	_ = await(t, s.ToggleCheck(context.Background(), "a", "2024-01-01"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}

func TestOnChangeEndsOnLatestSnapshot(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"}, model.Habit{ID: "b"})
	s := newLoadedStore(t, remote)

	var mu sync.Mutex
	var last Snapshot
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		last = snap
	})

	var results []<-chan error
	for i := 0; i < 20; i++ {
		id := model.HabitID("a")
		if i%2 == 1 {
			id = "b"
		}
		results = append(results, s.ToggleCheck(context.Background(), id, fmt.Sprintf("2024-02-%02d", i+1)))
	}
	for _, ch := range results {
		require.NoError(t, await(t, ch))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, s.Snapshot().Checks, last.Checks)
	assert.Equal(t, 20, last.Checks.Count())
}

func TestCacheNeverHoldsUnconfirmedToggles(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"}, model.Habit{ID: "b"})
	cache := &memCache{}
	s := NewStore(remote, cache, zap.NewNop())
	require.NoError(t, s.Load(context.Background()))

	remote.mu.Lock()
	remote.gate = make(chan struct{})
	remote.toggleErrFor = map[string]error{"b-2024-01-01": errRemote}
	remote.mu.Unlock()

	committed := s.ToggleCheck(context.Background(), "a", "2024-01-01")
	failed := s.ToggleCheck(context.Background(), "b", "2024-01-01")
	close(remote.gate)

	require.NoError(t, await(t, committed))
	assert.ErrorIs(t, await(t, failed), errRemote)
	require.NoError(t, s.Close(context.Background()))

	snap, ok, err := cache.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CheckMarks{"a-2024-01-01": true}, snap.Checks)

	// 离线启动看到的也只有远端确认过的打卡
	remote.mu.Lock()
	remote.listErr = errRemote
	remote.mu.Unlock()
	offline := NewStore(remote, cache, zap.NewNop())
	require.NoError(t, offline.Load(context.Background()))
	assert.True(t, offline.Snapshot().Cached)
	assert.False(t, offline.Snapshot().Checked("b", "2024-01-01"))
}

func TestCloseWaitsForInflightToggles(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	remote.gate = make(chan struct{})
	s := NewStore(remote, nil, zap.NewNop())
	require.NoError(t, s.Load(context.Background()))

	done := s.ToggleCheck(context.Background(), "a", "2024-01-01")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	close(remote.gate)
	require.NoError(t, await(t, done))
	require.NoError(t, s.Close(context.Background()))

	err := await(t, s.ToggleCheck(context.Background(), "a", "2024-01-02"))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.AddHabit(context.Background(), "Run")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.DeleteHabit(context.Background(), "a"), ErrStoreClosed)
}

func TestToggleIgnoresCallerCancellation(t *testing.T) {
	remote := newFakeRemote(model.Habit{ID: "a"})
	s := newLoadedStore(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.ToggleCheck(ctx, "a", "2024-01-01")
	cancel()

	require.NoError(t, await(t, done))
	assert.True(t, s.Snapshot().Checked("a", "2024-01-01"))
}
