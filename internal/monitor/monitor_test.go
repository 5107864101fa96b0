package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// fakePlatform is a controllable adapter: every call is counted and the
// snapshot function is swappable per test.
type fakePlatform struct {
	mu           sync.Mutex
	connects     int
	disconnects  int
	snapshots    int
	snapshotFn   func() (domain.AccountSnapshot, error)
	connectErr   error
	eventCh      chan domain.AccountEvent
	streamEvents bool
}

func (f *fakePlatform) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakePlatform) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakePlatform) AccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	f.mu.Lock()
	f.snapshots++
	fn := f.snapshotFn
	f.mu.Unlock()
	if fn == nil {
		return domain.AccountSnapshot{}, fmt.Errorf("no snapshot fn")
	}
	return fn()
}

func (f *fakePlatform) Events() <-chan domain.AccountEvent {
	if !f.streamEvents {
		return nil
	}
	return f.eventCh
}

func (f *fakePlatform) counts() (connects, disconnects, snapshots int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.snapshots
}

// fakeAlerter records every notification.
type fakeAlerter struct {
	mu    sync.Mutex
	calls []struct{ event, title, message string }
}

func (f *fakeAlerter) Notify(ctx context.Context, event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct{ event, title, message string }{event, title, message})
	return nil
}

func (f *fakeAlerter) byEvent(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.event == event {
			n++
		}
	}
	return n
}

// fakeDedup alternates between fresh and suppressed.
type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeDedup) ShouldAlert(ctx context.Context, label string, code domain.BreachCode, level domain.BreachLevel, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := label + "|" + string(code) + "|" + string(level)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

// fakeBreachStore records which persistence path each breach list took.
type fakeBreachStore struct {
	mu      sync.Mutex
	singles []domain.BreachRecord
	batches [][]domain.BreachRecord
}

func (f *fakeBreachStore) Insert(ctx context.Context, rec domain.BreachRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, rec)
	return nil
}

func (f *fakeBreachStore) InsertBatch(ctx context.Context, recs []domain.BreachRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, recs)
	return nil
}

func (f *fakeBreachStore) ListByAccount(ctx context.Context, label string, opts domain.ListOpts) ([]domain.BreachRecord, error) {
	return nil, nil
}

func (f *fakeBreachStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BreachRecord, error) {
	return nil, nil
}

func (f *fakeBreachStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeBreachStore) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.singles)
	for _, b := range f.batches {
		n += len(b)
	}
	return int64(n), nil
}

func (f *fakeBreachStore) counts() (singles, batches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.singles), len(f.batches)
}

func testAccount(label string, interval time.Duration) domain.Account {
	return domain.Account{
		Label:         label,
		Firm:          "FTMO",
		Platform:      domain.PlatformMT5,
		AccountID:     "12345",
		CheckInterval: interval,
		Enabled:       true,
		Rules: domain.PropRules{
			MaxDailyDrawdownPct: 5.0,
			MaxTotalDrawdownPct: 10.0,
			MaxOpenLots:         10.0,
			MaxPositions:        10,
			WarnBufferPct:       0.8,
		},
	}
}

func healthySnapshot() (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{
		Timestamp:       time.Now().UTC(),
		Balance:         100_000,
		Equity:          99_000,
		DayStartBalance: 100_000,
		DayStartEquity:  100_000,
	}, nil
}

func breachingSnapshot() (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{
		Timestamp:       time.Now().UTC(),
		Balance:         100_000,
		Equity:          94_000,
		DayStartBalance: 100_000,
		DayStartEquity:  100_000,
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRegisterValidation(t *testing.T) {
	m := New(Config{}, nil, discardLogger())

	bad := testAccount("bad", time.Second)
	bad.Rules.WarnBufferPct = 1.5
	err := m.Register(bad, &fakePlatform{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	noInterval := testAccount("no-interval", 0)
	assert.ErrorIs(t, m.Register(noInterval, &fakePlatform{}), domain.ErrConfiguration)

	nilAdapter := testAccount("nil-adapter", time.Second)
	assert.ErrorIs(t, m.Register(nilAdapter, nil), domain.ErrConfiguration)

	// One bad account never blocks a good one.
	good := testAccount("good", time.Second)
	require.NoError(t, m.Register(good, &fakePlatform{snapshotFn: healthySnapshot}))
	assert.Equal(t, []string{"good"}, m.Accounts())
}

func TestRegisterSkipsDisabledAccounts(t *testing.T) {
	m := New(Config{}, nil, discardLogger())

	acct := testAccount("paused", time.Second)
	acct.Enabled = false
	require.NoError(t, m.Register(acct, &fakePlatform{}))
	assert.Empty(t, m.Accounts())
}

func TestFailingAccountDoesNotAffectHealthyOne(t *testing.T) {
	alerter := &fakeAlerter{}
	m := New(Config{}, alerter, discardLogger())

	failing := &fakePlatform{snapshotFn: func() (domain.AccountSnapshot, error) {
		return domain.AccountSnapshot{}, fmt.Errorf("feed down: %w", domain.ErrConnectivity)
	}}
	healthy := &fakePlatform{snapshotFn: healthySnapshot}

	require.NoError(t, m.Register(testAccount("failing", 10*time.Millisecond), failing))
	require.NoError(t, m.Register(testAccount("healthy", 10*time.Millisecond), healthy))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	_, _, healthyCycles := healthy.counts()
	_, _, failingCycles := failing.counts()
	assert.GreaterOrEqual(t, healthyCycles, 3, "healthy account must keep its schedule")
	assert.GreaterOrEqual(t, failingCycles, 3, "failing account retries on its normal interval")
	assert.GreaterOrEqual(t, alerter.byEvent(EventError), 1, "faults are reported through the alert channel")
	assert.Zero(t, alerter.byEvent(EventBreach))
}

func TestPanickingCycleIsContained(t *testing.T) {
	alerter := &fakeAlerter{}
	m := New(Config{}, alerter, discardLogger())

	panicking := &fakePlatform{snapshotFn: func() (domain.AccountSnapshot, error) {
		panic("adapter bug")
	}}
	healthy := &fakePlatform{snapshotFn: healthySnapshot}

	require.NoError(t, m.Register(testAccount("panicking", 10*time.Millisecond), panicking))
	require.NoError(t, m.Register(testAccount("healthy", 10*time.Millisecond), healthy))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	_, _, healthyCycles := healthy.counts()
	assert.GreaterOrEqual(t, healthyCycles, 3)
	assert.GreaterOrEqual(t, alerter.byEvent(EventError), 1)
}

func TestShutdownReleasesConnections(t *testing.T) {
	m := New(Config{}, nil, discardLogger())

	a := &fakePlatform{snapshotFn: healthySnapshot}
	b := &fakePlatform{snapshotFn: healthySnapshot}
	require.NoError(t, m.Register(testAccount("a", 10*time.Millisecond), a))
	require.NoError(t, m.Register(testAccount("b", 10*time.Millisecond), b))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	_, aDisc, _ := a.counts()
	_, bDisc, _ := b.counts()
	assert.Equal(t, 1, aDisc, "adapter must be disconnected on shutdown")
	assert.Equal(t, 1, bDisc)
}

func TestBreachAlertsAreDeduped(t *testing.T) {
	alerter := &fakeAlerter{}
	m := New(Config{DedupTTL: time.Minute}, alerter, discardLogger()).
		WithAlertDedup(&fakeDedup{})

	breacher := &fakePlatform{snapshotFn: breachingSnapshot}
	require.NoError(t, m.Register(testAccount("breacher", 10*time.Millisecond), breacher))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	_, _, cycles := breacher.counts()
	assert.GreaterOrEqual(t, cycles, 3)
	assert.Equal(t, 1, alerter.byEvent(EventBreach),
		"a sustained breach alerts once per dedup window, not once per cycle")
}

func TestEventStreamTriggersExtraCycles(t *testing.T) {
	m := New(Config{}, nil, discardLogger())

	streamer := &fakePlatform{
		snapshotFn:   healthySnapshot,
		streamEvents: true,
		eventCh:      make(chan domain.AccountEvent, 4),
	}
	// A long poll interval so only pushed events can add cycles.
	require.NoError(t, m.Register(testAccount("streamer", time.Hour), streamer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	for i := 0; i < 3; i++ {
		streamer.eventCh <- domain.AccountEvent{Kind: domain.EventExecution, Symbol: "EURUSD"}
	}
	assert.Eventually(t, func() bool {
		_, _, n := streamer.counts()
		return n >= 4 // initial cycle + three pushed events
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestBreachPersistencePaths(t *testing.T) {
	store := &fakeBreachStore{}
	m := New(Config{}, nil, discardLogger()).
		WithBreachStore(store).
		WithAlertDedup(&fakeDedup{})

	// One breach: daily drawdown only.
	single := &fakePlatform{snapshotFn: breachingSnapshot}
	// Two breaches: daily and total drawdown both blown.
	multi := &fakePlatform{snapshotFn: func() (domain.AccountSnapshot, error) {
		return domain.AccountSnapshot{
			Timestamp:       time.Now().UTC(),
			Balance:         89_000,
			Equity:          89_000,
			StartingBalance: 100_000,
			DayStartBalance: 100_000,
			DayStartEquity:  100_000,
		}, nil
	}}

	singleAcct := testAccount("single", time.Hour)
	require.NoError(t, m.Register(singleAcct, single))
	require.NoError(t, m.Register(testAccount("multi", time.Hour), multi))

	for _, r := range m.runners {
		connected := true
		require.NoError(t, m.cycle(context.Background(), r, &connected))
	}

	singles, batches := store.counts()
	assert.Equal(t, 1, singles, "a lone breach is persisted with a single insert")
	assert.Equal(t, 1, batches, "multiple breaches in one cycle go through the batch path")

	require.Len(t, store.singles, 1)
	rec := store.singles[0]
	assert.Equal(t, "single", rec.AccountLabel)
	assert.Equal(t, singleAcct.Firm, rec.Firm)
	assert.Equal(t, domain.BreachDailyDD, rec.Code)
	assert.NotEmpty(t, rec.ID)

	require.Len(t, store.batches[0], 2)
	codes := []domain.BreachCode{store.batches[0][0].Code, store.batches[0][1].Code}
	assert.Contains(t, codes, domain.BreachDailyDD)
	assert.Contains(t, codes, domain.BreachTotalDD)

	total, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestEvaluateOnceIsolatesFaults(t *testing.T) {
	m := New(Config{}, nil, discardLogger())

	failing := &fakePlatform{connectErr: errors.New("auth rejected")}
	breacher := &fakePlatform{snapshotFn: breachingSnapshot}
	require.NoError(t, m.Register(testAccount("failing", time.Second), failing))
	require.NoError(t, m.Register(testAccount("breacher", time.Second), breacher))

	results, faults := m.EvaluateOnce(context.Background())

	require.Contains(t, faults, "failing")
	require.Contains(t, results, "breacher")
	require.Len(t, results["breacher"], 1)
	assert.Equal(t, domain.BreachDailyDD, results["breacher"][0].Code)
	assert.Equal(t, domain.LevelHard, results["breacher"][0].Level)

	_, disc, _ := breacher.counts()
	assert.Equal(t, 1, disc, "one-shot evaluation must release the connection")
}
