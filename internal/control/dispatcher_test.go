package control

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/guardcar/internal/config"
	"github.com/technosupport/guardcar/internal/detect"
	"github.com/technosupport/guardcar/internal/events"
	"github.com/technosupport/guardcar/internal/recording"
	"github.com/technosupport/guardcar/internal/router"
	"github.com/technosupport/guardcar/internal/track"
)

type stubDetector struct {
	ready   bool
	stopped bool
}

func (s *stubDetector) Detect(ctx context.Context, f *detect.Frame) (*detect.DetectionResult, error) {
	return &detect.DetectionResult{FrameID: f.ID}, nil
}
func (s *stubDetector) Ready() bool { return s.ready }
func (s *stubDetector) Stop()       { s.stopped = true }

func (s *stubDetector) WaitReady(timeout time.Duration) bool { return s.ready }

type stubCamera struct{}

func (stubCamera) StartRecording(ctx context.Context) error { return nil }
func (stubCamera) StopRecording(ctx context.Context) error  { return nil }

type responseRecorder struct {
	responses []events.ResponseMessage
}

func (r *responseRecorder) Publish(queue string, v any) error {
	if queue == events.ResponseQueue {
		r.responses = append(r.responses, v.(events.ResponseMessage))
	}
	return nil
}

func (r *responseRecorder) last(t *testing.T) events.ResponseMessage {
	t.Helper()
	require.NotEmpty(t, r.responses)
	return r.responses[len(r.responses)-1]
}

type fixture struct {
	d      *Dispatcher
	router *router.Router
	scorer *track.Scorer
	rec    *recording.Controller
	cfg    *config.Manager
	pub    *responseRecorder
	remote *stubDetector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "edge.json"), config.Transport{})
	require.NoError(t, err)

	scorer := track.NewScorer(nil)
	rt := router.New(&stubDetector{ready: true}, map[string]int{"person": 0, "car": 2},
		track.NewManager(track.DefaultManagerConfig()), scorer, router.Config{})
	rec := recording.NewController(stubCamera{}, nil, 75)
	pub := &responseRecorder{}

	f := &fixture{
		d:      NewDispatcher(rt, scorer, rec, cfg, pub),
		router: rt,
		scorer: scorer,
		rec:    rec,
		cfg:    cfg,
		pub:    pub,
		remote: &stubDetector{ready: true},
	}
	f.d.newRemote = func(c detect.RemoteConfig) (remoteDetector, error) {
		return f.remote, nil
	}
	return f
}

func certB64() string {
	return base64.StdEncoding.EncodeToString([]byte("fake-der-bytes"))
}

func TestDispatcher_RegisterProvider(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Queue: events.CloudProviderConfigQueue, Provider: &events.CloudProviderConfigMessage{
		ProviderName:        "alpha",
		ConnectionIP:        "10.0.0.5:50051",
		ServerCertification: certB64(),
	}})

	assert.Equal(t, "alpha", f.router.Selected())

	resp := f.pub.last(t)
	assert.True(t, resp.Success)
	assert.Equal(t, events.RelatedCloud, resp.RelatedTo)
	require.Len(t, f.pub.responses, 1)

	snap := f.cfg.Snapshot()
	require.Contains(t, snap.Providers, "alpha")
	assert.True(t, snap.Providers["alpha"].Active)
	assert.Equal(t, "10.0.0.5:50051", snap.Providers["alpha"].ConnectionIP)
}

func TestDispatcher_RegisterReservedNameRejected(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName: "local",
		ConnectionIP: "10.0.0.5:50051",
	}})

	resp := f.pub.last(t)
	assert.False(t, resp.Success)
	assert.Equal(t, router.LocalName, f.router.Selected())
}

func TestDispatcher_RegisterBadCertificateRejected(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName:        "alpha",
		ConnectionIP:        "10.0.0.5:50051",
		ServerCertification: "%%%not-base64%%%",
	}})

	resp := f.pub.last(t)
	assert.False(t, resp.Success)
	assert.Equal(t, events.RelatedCloud, resp.RelatedTo)
	assert.Equal(t, router.LocalName, f.router.Selected())
}

func TestDispatcher_RegisterUnreachableProviderRejected(t *testing.T) {
	f := newFixture(t)
	f.remote.ready = false

	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName:        "alpha",
		ConnectionIP:        "10.0.0.5:50051",
		ServerCertification: certB64(),
	}})

	resp := f.pub.last(t)
	assert.False(t, resp.Success)
	assert.True(t, f.remote.stopped)
	assert.Equal(t, router.LocalName, f.router.Selected())
	assert.NotContains(t, f.cfg.Snapshot().Providers, "alpha")
}

func TestDispatcher_RegisterFactoryErrorRejected(t *testing.T) {
	f := newFixture(t)
	f.d.newRemote = func(c detect.RemoteConfig) (remoteDetector, error) {
		return nil, errors.New("bad certificate")
	}

	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName:        "alpha",
		ConnectionIP:        "10.0.0.5:50051",
		ServerCertification: certB64(),
	}})

	assert.False(t, f.pub.last(t).Success)
}

func TestDispatcher_DeleteProviderFailsOverToLocal(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName:        "alpha",
		ConnectionIP:        "10.0.0.5:50051",
		ServerCertification: certB64(),
	}})
	require.Equal(t, "alpha", f.router.Selected())

	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName: "alpha",
		Delete:       true,
	}})

	assert.Equal(t, router.LocalName, f.router.Selected())
	assert.True(t, f.remote.stopped)
	assert.NotContains(t, f.cfg.Snapshot().Providers, "alpha")

	resp := f.pub.last(t)
	assert.True(t, resp.Success)
	assert.Equal(t, events.RelatedCloud, resp.RelatedTo)
}

func TestDispatcher_DeleteLocalRejected(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName: "local",
		Delete:       true,
	}})

	resp := f.pub.last(t)
	assert.False(t, resp.Success)
	assert.Contains(t, f.cfg.Snapshot().Providers, "local")
}

func TestDispatcher_DeleteUnknownProviderFails(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Provider: &events.CloudProviderConfigMessage{
		ProviderName: "ghost",
		Delete:       true,
	}})
	assert.False(t, f.pub.last(t).Success)
}

func TestDispatcher_SuspicionUpdate(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Suspicion: &events.SuspicionConfigMessage{
		Threshold:    60,
		ClassWeights: map[string]float64{"0": 2.2, "7": 0.9, "junk": 5},
	}})

	assert.Equal(t, 60, f.rec.Threshold())
	w := f.scorer.Weights()
	assert.Equal(t, 2.2, w[0])
	assert.Equal(t, 0.9, w[7])
	// Untouched defaults survive the merge.
	assert.Equal(t, 0.6, w[1])

	resp := f.pub.last(t)
	assert.True(t, resp.Success)
	assert.Equal(t, events.RelatedSuspicion, resp.RelatedTo)

	assert.Equal(t, 60, f.cfg.Snapshot().SuspicionScore)
}

func TestDispatcher_SuspicionThresholdClamped(t *testing.T) {
	f := newFixture(t)
	f.d.handle(&events.ControlMessage{Suspicion: &events.SuspicionConfigMessage{Threshold: 250}})
	assert.Equal(t, 100, f.rec.Threshold())

	f.d.handle(&events.ControlMessage{Suspicion: &events.SuspicionConfigMessage{Threshold: -10}})
	assert.Equal(t, 0, f.rec.Threshold())
}

func TestDispatcher_EnqueueMalformedAnswersFailure(t *testing.T) {
	f := newFixture(t)
	f.d.Enqueue(events.CloudProviderConfigQueue, []byte(`{broken`))

	resp := f.pub.last(t)
	assert.False(t, resp.Success)
	assert.Equal(t, events.RelatedGeneral, resp.RelatedTo)
}

func TestDispatcher_EnqueueAndRunRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.d.Run(ctx)

	f.d.Enqueue(events.SuspicionConfigQueue, []byte(`{"threshold":42}`))

	require.Eventually(t, func() bool {
		return f.rec.Threshold() == 42
	}, 2*time.Second, 10*time.Millisecond)
}
