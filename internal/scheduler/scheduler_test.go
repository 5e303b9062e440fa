package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBiller struct {
	mu        sync.Mutex
	last      ledger.Month
	hasLast   bool
	generated []ledger.Month
	failWith  error
}

func (f *fakeBiller) GenerateBills(_ context.Context, month ledger.Month) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.generated = append(f.generated, month)
	return 3, nil
}

func (f *fakeBiller) LastBilledMonth(context.Context) (ledger.Month, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast, nil
}

func (f *fakeBiller) MarkBilled(_ context.Context, month ledger.Month) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last, f.hasLast = month, true
	return nil
}

func (f *fakeBiller) runs() []ledger.Month {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Month(nil), f.generated...)
}

func newAt(t *testing.T, biller Biller, now time.Time) *Scheduler {
	s := New(biller, time.Millisecond, time.UTC, zaptest.NewLogger(t))
	s.now = func() time.Time { return now }
	return s
}

func TestTickBillsPreviousMonthOnce(t *testing.T) {
	biller := &fakeBiller{}
	s := newAt(t, biller, time.Date(2024, time.April, 1, 0, 5, 0, 0, time.UTC))

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, []ledger.Month{{Year: 2024, Month: time.March}}, biller.runs())
}

func TestTickAcrossYearBoundary(t *testing.T) {
	biller := &fakeBiller{last: ledger.Month{Year: 2024, Month: time.November}, hasLast: true}
	s := newAt(t, biller, time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC))

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []ledger.Month{{Year: 2024, Month: time.December}}, biller.runs())
}

func TestTickUsesConfiguredZone(t *testing.T) {
	biller := &fakeBiller{}
	zone := time.FixedZone("IST", 5*3600+1800)
	s := New(biller, time.Minute, zone, nil)
	// 20:00 UTC on 31 March is already 1 April in IST.
	s.now = func() time.Time { return time.Date(2024, time.March, 31, 20, 0, 0, 0, time.UTC) }

	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Month{{Year: 2024, Month: time.March}}, biller.runs())
}

func TestTickDoesNotMarkOnFailure(t *testing.T) {
	biller := &fakeBiller{failWith: errors.New("store offline")}
	s := newAt(t, biller, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	_, err := s.Tick(context.Background())
	require.Error(t, err)
	_, ok, _ := biller.LastBilledMonth(context.Background())
	assert.False(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	biller := &fakeBiller{}
	s := newAt(t, biller, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(biller.runs()) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Len(t, biller.runs(), 1)
}
