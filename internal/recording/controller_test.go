package recording

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/guardcar/internal/events"
)

type fakeCamera struct {
	starts, stops int
	startErr      error
	stopErr       error
}

func (f *fakeCamera) StartRecording(ctx context.Context) error {
	f.starts++
	return f.startErr
}

func (f *fakeCamera) StopRecording(ctx context.Context) error {
	f.stops++
	return f.stopErr
}

type capturePublisher struct {
	queues []string
	msgs   []any
	err    error
}

func (p *capturePublisher) Publish(queue string, v any) error {
	p.queues = append(p.queues, queue)
	p.msgs = append(p.msgs, v)
	return p.err
}

func TestController_EdgeTriggeredStartStop(t *testing.T) {
	cam := &fakeCamera{}
	pub := &capturePublisher{}
	c := NewController(cam, pub, 75)
	ctx := context.Background()

	// Rising scores below the threshold do nothing.
	c.Observe(ctx, 10)
	c.Observe(ctx, 74.9)
	assert.Equal(t, 0, cam.starts)
	assert.False(t, c.Recording())

	// Crossing fires exactly one start; staying above does not repeat it.
	c.Observe(ctx, 75)
	c.Observe(ctx, 90)
	c.Observe(ctx, 80)
	assert.Equal(t, 1, cam.starts)
	assert.True(t, c.Recording())

	// Falling below fires exactly one stop.
	c.Observe(ctx, 74.9)
	c.Observe(ctx, 10)
	assert.Equal(t, 1, cam.stops)
	assert.False(t, c.Recording())

	// Second crossing starts again.
	c.Observe(ctx, 99)
	assert.Equal(t, 2, cam.starts)

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, events.RecordingStatusQueue, pub.queues[0])
	assert.Equal(t, events.RecordingStatusMessage{Recording: true}, pub.msgs[0])
	assert.Equal(t, events.RecordingStatusMessage{Recording: false}, pub.msgs[1])
	assert.Equal(t, events.RecordingStatusMessage{Recording: true}, pub.msgs[2])
}

func TestController_ScoreAtThresholdStarts(t *testing.T) {
	cam := &fakeCamera{}
	c := NewController(cam, nil, 50)
	c.Observe(context.Background(), 50)
	assert.True(t, c.Recording())
	assert.Equal(t, 1, cam.starts)
}

func TestController_CameraFailureDoesNotRevertState(t *testing.T) {
	cam := &fakeCamera{startErr: errors.New("camera unreachable")}
	c := NewController(cam, nil, 50)
	ctx := context.Background()

	c.Observe(ctx, 80)
	assert.True(t, c.Recording(), "state follows the score, not the camera")
	assert.Equal(t, 1, cam.starts)

	// No retry storm while the score stays high.
	c.Observe(ctx, 85)
	assert.Equal(t, 1, cam.starts)
}

func TestController_ThresholdClampedAndHotReloaded(t *testing.T) {
	c := NewController(&fakeCamera{}, nil, 150)
	assert.Equal(t, 100, c.Threshold())

	c.SetThreshold(-5)
	assert.Equal(t, 0, c.Threshold())

	c.SetThreshold(60)
	assert.Equal(t, 60, c.Threshold())
}

func TestController_ThresholdChangeTriggersOnNextScore(t *testing.T) {
	cam := &fakeCamera{}
	c := NewController(cam, nil, 90)
	ctx := context.Background()

	c.Observe(ctx, 70)
	require.False(t, c.Recording())

	c.SetThreshold(60)
	c.Observe(ctx, 70)
	assert.True(t, c.Recording())

	c.SetThreshold(80)
	c.Observe(ctx, 70)
	assert.False(t, c.Recording())
	assert.Equal(t, 1, cam.stops)
}
