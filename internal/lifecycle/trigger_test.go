package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	mu         sync.Mutex
	calls      []string
	connectErr error
}

func (f *fakeConnector) ConnectContext(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	return f.connectErr
}

func (f *fakeConnector) DisconnectContext(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	return nil
}

func (f *fakeConnector) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type budgetConnector struct {
	fakeConnector
	budget time.Duration
}

func (b *budgetConnector) CloseBudget() time.Duration { return b.budget }

func waitHandled(t *testing.T, tr *Trigger, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Handled() >= n }, 2*time.Second, time.Millisecond)
}

func TestTrigger_StartConnectsWhenAutoConnect(t *testing.T) {
	fc := &fakeConnector{}
	tr := New(fc, true, nil)
	require.NoError(t, tr.Start())
	waitHandled(t, tr, 1)

	assert.Equal(t, []string{"connect"}, fc.snapshot())

	tr.Stop()
	assert.Equal(t, []string{"connect", "disconnect"}, fc.snapshot())
}

func TestTrigger_SignalsInArrivalOrder(t *testing.T) {
	fc := &fakeConnector{}
	tr := New(fc, true, nil)
	require.NoError(t, tr.Start())

	tr.Notify(Pause)
	tr.Notify(Resume)
	tr.Notify(FocusLost)
	tr.Notify(FocusGained)
	waitHandled(t, tr, 5)

	assert.Equal(t, []string{"connect", "disconnect", "connect", "disconnect", "connect"}, fc.snapshot())
	tr.Stop()
}

func TestTrigger_ResumeWithoutAutoConnectOnlyDisconnects(t *testing.T) {
	fc := &fakeConnector{}
	tr := New(fc, false, nil)
	require.NoError(t, tr.Start())

	tr.Notify(Resume)
	tr.Notify(Pause)
	tr.Notify(FocusGained)
	waitHandled(t, tr, 3)

	assert.Equal(t, []string{"disconnect"}, fc.snapshot())
	tr.Stop()
}

func TestTrigger_FailedConnectIsNotRetried(t *testing.T) {
	fc := &fakeConnector{connectErr: errors.New("refused")}
	tr := New(fc, true, nil)
	require.NoError(t, tr.Start())
	waitHandled(t, tr, 1)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"connect"}, fc.snapshot())
	tr.Stop()
}

func TestTrigger_StartTwiceAndStopTwice(t *testing.T) {
	fc := &fakeConnector{}
	tr := New(fc, false, nil)
	require.NoError(t, tr.Start())
	assert.ErrorIs(t, tr.Start(), ErrAlreadyStarted)

	tr.Stop()
	tr.Stop()
	assert.Equal(t, []string{"disconnect"}, fc.snapshot())
}

func TestTrigger_NotifyBeforeStartIsIgnored(t *testing.T) {
	fc := &fakeConnector{}
	tr := New(fc, true, nil)
	tr.Notify(Resume)
	assert.Zero(t, tr.Handled())
	assert.Empty(t, fc.snapshot())
}

func TestSignal_String(t *testing.T) {
	assert.Equal(t, "pause", Pause.String())
	assert.Equal(t, "resume", Resume.String())
	assert.Equal(t, "focus_lost", FocusLost.String())
	assert.Equal(t, "focus_gained", FocusGained.String())
	assert.Equal(t, "unknown", Signal(99).String())
}

func TestNew_StopTimeoutCoversCloseBudget(t *testing.T) {
	tr := New(&budgetConnector{budget: 7 * time.Second}, false, nil)
	assert.Equal(t, 8*time.Second, tr.StopTimeout)

	tr = New(&fakeConnector{}, false, nil)
	assert.Equal(t, defaultStopTimeout, tr.StopTimeout)
}
