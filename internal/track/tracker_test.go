package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/guardcar/internal/detect"
)

func det(classID int, x1, y1, x2, y2 float64) detect.Detection {
	return detect.Detection{ClassID: classID, Confidence: 0.9, X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func quickConfig() ManagerConfig {
	return ManagerConfig{
		LostTrackBuffer:      3,
		FrameRate:            30,
		MinConsecutiveFrames: 3,
		IoUThreshold:         0.3,
		MaxAge:               10 * time.Second,
	}
}

func TestTracker_ConfirmAfterConsecutiveFrames(t *testing.T) {
	m := NewManager(quickConfig())
	now := time.Now()

	var confirmed []*Track
	for i := 0; i < 3; i++ {
		confirmed = m.Update([]detect.Detection{det(2, 10, 10, 50, 50)}, now.Add(time.Duration(i)*33*time.Millisecond))
	}
	require.Len(t, confirmed, 1)
	assert.Equal(t, 2, confirmed[0].ClassID)

	// One or two frames are not enough.
	m2 := NewManager(quickConfig())
	confirmed = m2.Update([]detect.Detection{det(2, 10, 10, 50, 50)}, now)
	assert.Empty(t, confirmed)
	confirmed = m2.Update([]detect.Detection{det(2, 11, 10, 51, 50)}, now.Add(33*time.Millisecond))
	assert.Empty(t, confirmed)
}

func TestTracker_IDsUniqueAndNeverReused(t *testing.T) {
	m := NewManager(quickConfig())
	now := time.Now()

	m.Update([]detect.Detection{det(2, 10, 10, 50, 50)}, now)
	// Detection vanishes before confirmation, track is dropped.
	m.Update(nil, now.Add(33*time.Millisecond))
	require.Equal(t, 0, m.Len())

	// A new object in the same spot gets a fresh ID.
	var confirmed []*Track
	for i := 0; i < 3; i++ {
		confirmed = m.Update([]detect.Detection{det(2, 10, 10, 50, 50)}, now.Add(time.Duration(i+2)*33*time.Millisecond))
	}
	require.Len(t, confirmed, 1)
	assert.Equal(t, uint64(2), confirmed[0].ID)
}

func TestTracker_SurvivesMissesWithinBuffer(t *testing.T) {
	m := NewManager(quickConfig())
	now := time.Now()

	for i := 0; i < 3; i++ {
		m.Update([]detect.Detection{det(0, 100, 100, 160, 220)}, now.Add(time.Duration(i)*33*time.Millisecond))
	}
	require.Len(t, m.Confirmed(), 1)
	id := m.Confirmed()[0].ID

	// Two misses: still alive.
	m.Update(nil, now.Add(100*time.Millisecond))
	m.Update(nil, now.Add(133*time.Millisecond))
	require.Len(t, m.Confirmed(), 1)

	// Re-detection in the same area keeps the identity.
	got := m.Update([]detect.Detection{det(0, 102, 101, 162, 221)}, now.Add(166*time.Millisecond))
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}

func TestTracker_EvictsAfterLostBuffer(t *testing.T) {
	m := NewManager(quickConfig())
	now := time.Now()

	for i := 0; i < 3; i++ {
		m.Update([]detect.Detection{det(0, 100, 100, 160, 220)}, now.Add(time.Duration(i)*33*time.Millisecond))
	}
	require.Len(t, m.Confirmed(), 1)

	ts := now.Add(100 * time.Millisecond)
	for i := 0; i <= 3; i++ {
		m.Update(nil, ts.Add(time.Duration(i)*33*time.Millisecond))
	}
	assert.Equal(t, 0, m.Len())
}

func TestTracker_ClassMismatchStartsNewTrack(t *testing.T) {
	m := NewManager(quickConfig())
	now := time.Now()

	m.Update([]detect.Detection{det(2, 10, 10, 50, 50)}, now)
	// Same box, different class: must not extend the car track.
	m.Update([]detect.Detection{det(7, 10, 10, 50, 50)}, now.Add(33*time.Millisecond))
	// The car track was unconfirmed and missed once, so only the truck remains.
	require.Equal(t, 1, m.Len())
}

func TestTracker_ConfirmedSortedByID(t *testing.T) {
	m := NewManager(quickConfig())
	now := time.Now()

	dets := []detect.Detection{
		det(2, 10, 10, 50, 50),
		det(0, 200, 200, 260, 320),
		det(7, 400, 100, 520, 180),
	}
	var confirmed []*Track
	for i := 0; i < 3; i++ {
		confirmed = m.Update(dets, now.Add(time.Duration(i)*33*time.Millisecond))
	}
	require.Len(t, confirmed, 3)
	for i := 1; i < len(confirmed); i++ {
		assert.Less(t, confirmed[i-1].ID, confirmed[i].ID)
	}
}

func TestTracker_MaxAgeEviction(t *testing.T) {
	cfg := quickConfig()
	cfg.MaxAge = 500 * time.Millisecond
	m := NewManager(cfg)
	now := time.Now()

	for i := 0; i < 3; i++ {
		m.Update([]detect.Detection{det(2, 10, 10, 50, 50)}, now.Add(time.Duration(i)*33*time.Millisecond))
	}
	require.Len(t, m.Confirmed(), 1)

	// A big wall-clock gap evicts even within the miss buffer.
	m.Update(nil, now.Add(2*time.Second))
	assert.Equal(t, 0, m.Len())
}
