package detect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	cloudroutev1 "github.com/technosupport/guardcar/api/cloudroute/v1"
)

const (
	// DefaultRemotePort is assumed when a provider address has no port.
	DefaultRemotePort = "50051"

	remoteSendQueue   = 30
	remoteResultCache = 256

	reconnectBase = 500 * time.Millisecond
	reconnectCap  = 10 * time.Second
)

// RemoteConfig configures a streaming RPC detector.
type RemoteConfig struct {
	Name         string
	Address      string // host, host:port or bare IPv6
	CertDER      []byte // pinned server certificate, DER encoded
	FrameTimeout time.Duration
}

// RemoteDetector talks to a cloud detector over a single long-lived
// bidirectional stream. One goroutine owns the stream; requests flow through
// a bounded drop-oldest queue and responses are correlated by frame id.
type RemoteDetector struct {
	name         string
	target       string
	tlsCfg       *tls.Config
	frameTimeout time.Duration

	sendCh chan *cloudroutev1.DetectionRequest

	mu      sync.Mutex
	pending map[uint64]chan *DetectionResult
	frames  map[uint64]*Frame
	results *lru.Cache[uint64, *DetectionResult]

	ready    atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRemoteDetector validates the pinned certificate and starts the stream
// goroutine. Readiness flips to true only after the TLS handshake and stream
// establishment complete; use WaitReady before the first send.
func NewRemoteDetector(cfg RemoteConfig) (*RemoteDetector, error) {
	tlsCfg, err := pinnedTLSConfig(cfg.CertDER)
	if err != nil {
		return nil, err
	}
	results, err := lru.New[uint64, *DetectionResult](remoteResultCache)
	if err != nil {
		return nil, err
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = time.Second
	}

	r := &RemoteDetector{
		name:         cfg.Name,
		target:       NormalizeAddress(cfg.Address),
		tlsCfg:       tlsCfg,
		frameTimeout: cfg.FrameTimeout,
		sendCh:       make(chan *cloudroutev1.DetectionRequest, remoteSendQueue),
		pending:      make(map[uint64]chan *DetectionResult),
		frames:       make(map[uint64]*Frame),
		results:      results,
		stopCh:       make(chan struct{}),
	}
	r.wg.Add(1)
	go r.runStream()
	return r, nil
}

// NormalizeAddress appends the default detector port when addr carries none
// and brackets bare IPv6 literals.
func NormalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultRemotePort)
}

// pinnedTLSConfig trusts exactly the given DER certificate as the chain root
// and skips hostname verification; cloud detectors are addressed by IP.
func pinnedTLSConfig(der []byte) (*tls.Config, error) {
	pinned, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse pinned certificate: %w", err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(pinned)

	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("server presented no certificate")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			inter := x509.NewCertPool()
			for _, raw := range rawCerts[1:] {
				c, err := x509.ParseCertificate(raw)
				if err != nil {
					return err
				}
				inter.AddCert(c)
			}
			_, err = leaf.Verify(x509.VerifyOptions{Roots: roots, Intermediates: inter})
			return err
		},
	}, nil
}

func (r *RemoteDetector) Name() string { return r.name }

func (r *RemoteDetector) Ready() bool { return r.ready.Load() }

// WaitReady polls the readiness flag until it is set, the timeout elapses or
// the detector stops.
func (r *RemoteDetector) WaitReady(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if r.ready.Load() {
			return true
		}
		select {
		case <-deadline.C:
			return false
		case <-r.stopCh:
			return false
		case <-tick.C:
		}
	}
}

// Detect sends the frame and waits for its result, bounded by the per-frame
// timeout (tightened by the context deadline if sooner).
func (r *RemoteDetector) Detect(ctx context.Context, frame *Frame) (*DetectionResult, error) {
	if err := r.SendFrame(frame); err != nil {
		return nil, err
	}
	timeout := r.frameTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	return r.AwaitResult(frame.ID, timeout)
}

// SendFrame enqueues the frame, dropping the oldest queued request on
// overflow.
func (r *RemoteDetector) SendFrame(frame *Frame) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	if !r.ready.Load() {
		return ErrNotReady
	}

	req := &cloudroutev1.DetectionRequest{
		Frame:   frame.JPEG,
		Width:   int32(frame.Width),
		Height:  int32(frame.Height),
		FrameID: frame.ID,
	}

	r.mu.Lock()
	r.pending[frame.ID] = make(chan *DetectionResult, 1)
	r.frames[frame.ID] = frame
	r.mu.Unlock()

	for {
		select {
		case r.sendCh <- req:
			return nil
		default:
		}
		select {
		case old := <-r.sendCh:
			r.dropPending(old.FrameID)
		default:
		}
	}
}

// AwaitResult blocks until the result for frameID arrives or the timeout
// elapses. A queue clear or stream reset surfaces as ErrDrained.
func (r *RemoteDetector) AwaitResult(frameID uint64, timeout time.Duration) (*DetectionResult, error) {
	if res, ok := r.results.Get(frameID); ok {
		return res, nil
	}
	r.mu.Lock()
	ch, ok := r.pending[frameID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrDrained
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res, open := <-ch:
		if !open {
			return nil, ErrDrained
		}
		return res, nil
	case <-t.C:
		r.dropPending(frameID)
		return nil, ErrTimeout
	case <-r.stopCh:
		return nil, ErrStopped
	}
}

// Frame returns the buffered original frame for a pending frame id.
func (r *RemoteDetector) Frame(frameID uint64) (*Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.frames[frameID]
	return f, ok
}

// ClearQueue drops every queued request and fails every pending waiter.
func (r *RemoteDetector) ClearQueue() {
drain:
	for {
		select {
		case <-r.sendCh:
		default:
			break drain
		}
	}
	r.clearCorrelation()
}

// Stop tears the stream down and releases all waiters.
func (r *RemoteDetector) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stopCh)
	})
	r.wg.Wait()
	r.clearCorrelation()
}

func (r *RemoteDetector) dropPending(frameID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.pending[frameID]; ok {
		close(ch)
		delete(r.pending, frameID)
	}
	delete(r.frames, frameID)
}

func (r *RemoteDetector) clearCorrelation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
	for id := range r.frames {
		delete(r.frames, id)
	}
	r.results.Purge()
}

func (r *RemoteDetector) runStream() {
	defer r.wg.Done()
	backoff := reconnectBase
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		established, err := r.streamOnce()
		r.ready.Store(false)
		r.clearCorrelation()
		if r.stopped.Load() {
			return
		}
		if err != nil {
			log.Printf("[RemoteDetector %s] stream to %s ended: %v", r.name, r.target, err)
		}
		if established {
			backoff = reconnectBase
		}

		select {
		case <-r.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

// streamOnce dials, opens the bidirectional stream and shuttles messages
// until the stream or the detector dies. established reports whether the
// stream came up at all.
func (r *RemoteDetector) streamOnce() (bool, error) {
	conn, err := grpc.NewClient(r.target,
		grpc.WithTransportCredentials(credentials.NewTLS(r.tlsCfg)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := cloudroutev1.NewCloudRouteClient(conn)
	stream, err := client.CloudRouteStream(streamCtx)
	if err != nil {
		return false, err
	}

	r.ready.Store(true)
	log.Printf("[RemoteDetector %s] connected to %s", r.name, r.target)

	errCh := make(chan error, 2)
	go func() {
		for {
			select {
			case <-r.stopCh:
				errCh <- stream.CloseSend()
				return
			case <-streamCtx.Done():
				errCh <- streamCtx.Err()
				return
			case req := <-r.sendCh:
				if err := stream.Send(req); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()
	go func() {
		for {
			res, err := stream.Recv()
			if err != nil {
				errCh <- err
				return
			}
			r.deliver(res)
		}
	}()

	err = <-errCh
	cancel()
	return true, err
}

func (r *RemoteDetector) deliver(res *cloudroutev1.DetectionResult) {
	r.mu.Lock()
	frame := r.frames[res.FrameID]
	delete(r.frames, res.FrameID)
	ch := r.pending[res.FrameID]
	delete(r.pending, res.FrameID)
	r.mu.Unlock()

	converted := &DetectionResult{FrameID: res.FrameID}
	for _, d := range res.Detections {
		det := Detection{
			ClassID:    int(d.ClassID),
			ClassName:  d.ClassName,
			Confidence: float64(d.Confidence),
			X1:         float64(d.X1),
			Y1:         float64(d.Y1),
			X2:         float64(d.X2),
			Y2:         float64(d.Y2),
		}
		if frame != nil {
			ClampToFrame(&det, frame.Width, frame.Height)
		}
		converted.Detections = append(converted.Detections, det)
	}

	r.results.Add(res.FrameID, converted)
	if ch != nil {
		ch <- converted
	}
}
