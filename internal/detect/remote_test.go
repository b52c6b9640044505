package detect

import (
	"context"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cloudroutev1 "github.com/technosupport/guardcar/api/cloudroute/v1"
	"github.com/technosupport/guardcar/internal/selfsign"
)

// bareRemote builds a RemoteDetector without the stream goroutine so queue and
// correlation behavior can be driven deterministically.
func bareRemote(t *testing.T) *RemoteDetector {
	t.Helper()
	cache, err := lru.New[uint64, *DetectionResult](remoteResultCache)
	require.NoError(t, err)
	r := &RemoteDetector{
		name:         "test",
		target:       "127.0.0.1:50051",
		frameTimeout: 50 * time.Millisecond,
		sendCh:       make(chan *cloudroutev1.DetectionRequest, remoteSendQueue),
		pending:      make(map[uint64]chan *DetectionResult),
		frames:       make(map[uint64]*Frame),
		results:      cache,
		stopCh:       make(chan struct{}),
	}
	r.ready.Store(true)
	return r
}

func TestNewRemoteDetector_BadCertificate(t *testing.T) {
	_, err := NewRemoteDetector(RemoteConfig{
		Name:    "alpha",
		Address: "10.0.0.5",
		CertDER: []byte("not a certificate"),
	})
	assert.Error(t, err)
}

func TestNewRemoteDetector_StopReleasesWaiters(t *testing.T) {
	ident, err := selfsign.New("test-cloud")
	require.NoError(t, err)

	r, err := NewRemoteDetector(RemoteConfig{
		Name:    "alpha",
		Address: "127.0.0.1:1",
		CertDER: ident.DER,
	})
	require.NoError(t, err)

	r.Stop()
	assert.False(t, r.WaitReady(10*time.Millisecond))
	assert.ErrorIs(t, r.SendFrame(&Frame{ID: 1}), ErrStopped)
}

func TestRemote_SendNotReady(t *testing.T) {
	r := bareRemote(t)
	r.ready.Store(false)
	assert.ErrorIs(t, r.SendFrame(&Frame{ID: 1}), ErrNotReady)
}

func TestRemote_AwaitTimesOut(t *testing.T) {
	r := bareRemote(t)
	require.NoError(t, r.SendFrame(&Frame{ID: 1}))

	_, err := r.AwaitResult(1, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// The timed-out frame is gone from the correlation tables.
	_, ok := r.Frame(1)
	assert.False(t, ok)
}

func TestRemote_DeliverCompletesDetect(t *testing.T) {
	r := bareRemote(t)
	frame := &Frame{ID: 7, Width: 640, Height: 480}

	done := make(chan *DetectionResult, 1)
	go func() {
		res, err := r.Detect(context.Background(), frame)
		if err == nil {
			done <- res
		}
	}()

	// Wait until the request is queued, then answer it like the stream would.
	require.Eventually(t, func() bool {
		_, ok := r.Frame(7)
		return ok
	}, time.Second, 5*time.Millisecond)

	r.deliver(&cloudroutev1.DetectionResult{
		FrameID: 7,
		Detections: []*cloudroutev1.Detection{
			{ClassName: "car", Confidence: 0.88, X1: 10, Y1: 10, X2: 100, Y2: 80},
		},
	})

	select {
	case res := <-done:
		require.Len(t, res.Detections, 1)
		assert.Equal(t, "car", res.Detections[0].ClassName)
		assert.Equal(t, uint64(7), res.FrameID)
	case <-time.After(time.Second):
		t.Fatal("result never delivered")
	}
}

func TestRemote_QueueDropsOldestOnOverflow(t *testing.T) {
	r := bareRemote(t)

	for i := 1; i <= remoteSendQueue+5; i++ {
		require.NoError(t, r.SendFrame(&Frame{ID: uint64(i)}))
	}

	// The first frames fell off the queue; their waiters fail as drained.
	_, err := r.AwaitResult(1, time.Millisecond)
	assert.ErrorIs(t, err, ErrDrained)

	// The newest frame is still pending.
	_, ok := r.Frame(uint64(remoteSendQueue + 5))
	assert.True(t, ok)
	assert.Len(t, r.sendCh, remoteSendQueue)
}

func TestRemote_ClearQueueDrainsEverything(t *testing.T) {
	r := bareRemote(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, r.SendFrame(&Frame{ID: uint64(i)}))
	}

	r.ClearQueue()
	assert.Empty(t, r.sendCh)
	for i := 1; i <= 5; i++ {
		_, err := r.AwaitResult(uint64(i), time.Millisecond)
		assert.ErrorIs(t, err, ErrDrained)
	}
}
