// Package router picks a detector per frame, guards the remote path with a
// circuit breaker, and feeds unified results into the tracker.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/guardcar/internal/detect"
	"github.com/technosupport/guardcar/internal/metrics"
	"github.com/technosupport/guardcar/internal/track"
)

// LocalName is the reserved provider name of the in-process detector. It can
// never be removed and is the fallback of last resort.
const LocalName = "local"

var (
	ErrNotFound      = errors.New("provider not found")
	ErrRemoveLocal   = errors.New("local provider cannot be removed")
	ErrAlreadyExists = errors.New("provider already registered")
)

// drainer is implemented by detectors that buffer in-flight requests
// (the remote one); drained on failover and before deregistration.
type drainer interface {
	ClearQueue()
}

// probe is implemented by detectors whose readiness may lag connection
// establishment; consulted before the half-open trial call.
type probe interface {
	WaitReady(timeout time.Duration) bool
}

// Config tunes the per-frame routing behavior.
type Config struct {
	Breaker BreakerConfig
	// ProbeWait is the short readiness wait before a half-open trial call.
	ProbeWait time.Duration
}

// Router owns the provider registry, the breaker, and the tracker. Provider
// mutations come from the control dispatcher; Process is called from the
// frame pump. A mutex covers the registry so the two never interleave.
type Router struct {
	mu       sync.Mutex
	order    []string
	registry map[string]detect.Detector
	selected string
	classes  map[string]int

	breaker   *Breaker
	probeWait time.Duration

	tracks *track.Manager
	scorer *track.Scorer
}

// New builds a router with the local detector pre-registered and selected.
// classes is the local model's lowercased name-to-id map, used to reconcile
// remote detections that arrive without ids.
func New(local detect.Detector, classes map[string]int, tracks *track.Manager, scorer *track.Scorer, cfg Config) *Router {
	if cfg.ProbeWait <= 0 {
		cfg.ProbeWait = 200 * time.Millisecond
	}
	r := &Router{
		order:     []string{LocalName},
		registry:  map[string]detect.Detector{LocalName: local},
		selected:  LocalName,
		classes:   classes,
		breaker:   NewBreaker(cfg.Breaker),
		probeWait: cfg.ProbeWait,
		tracks:    tracks,
		scorer:    scorer,
	}
	return r
}

// Breaker exposes the circuit state for metrics and tests.
func (r *Router) Breaker() *Breaker { return r.breaker }

// Selected returns the active provider name.
func (r *Router) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Providers lists the registered provider names, local first, the rest in
// registration order.
func (r *Router) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Register adds a provider under name. The name "local" is reserved.
func (r *Router) Register(name string, d detect.Detector) error {
	if name == LocalName {
		return ErrAlreadyExists
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registry[name]; ok {
		return ErrAlreadyExists
	}
	r.registry[name] = d
	r.order = append(r.order, name)
	return nil
}

// Select atomically makes name the active provider. Selecting a remote resets
// the breaker so the new provider starts with a clean window.
func (r *Router) Select(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registry[name]; !ok {
		return ErrNotFound
	}
	if r.selected != name {
		log.Printf("[Router] provider %s -> %s", r.selected, name)
	}
	r.selected = name
	r.breaker.Success()
	return nil
}

// Remove deregisters a provider, stopping it and draining its queues. If it
// was selected, the next remote (or local) takes over first.
func (r *Router) Remove(name string) error {
	if name == LocalName {
		return ErrRemoveLocal
	}
	r.mu.Lock()
	d, ok := r.registry[name]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if r.selected == name {
		r.selected = r.findNextRemoteLocked(name)
		log.Printf("[Router] removed active provider %s, selected %s", name, r.selected)
		r.breaker.Success()
	}
	delete(r.registry, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if dr, ok := d.(drainer); ok {
		dr.ClearQueue()
	}
	d.Stop()
	return nil
}

// FindNextRemote returns the first registered non-local provider other than
// excluding, or "local" when none remains.
func (r *Router) FindNextRemote(excluding string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findNextRemoteLocked(excluding)
}

func (r *Router) findNextRemoteLocked(excluding string) string {
	for _, n := range r.order {
		if n == LocalName || n == excluding {
			continue
		}
		return n
	}
	return LocalName
}

// Process runs one frame through the selected detector (falling back to the
// local one on any remote failure) and returns the suspicion score plus the
// confirmed tracks. Never returns an error for detector failures; the only
// error path is a local decode problem, which the pump skips.
func (r *Router) Process(ctx context.Context, frame *detect.Frame) (float64, []*track.Track, error) {
	r.mu.Lock()
	name := r.selected
	selected := r.registry[name]
	local := r.registry[LocalName]
	r.mu.Unlock()

	var result *detect.DetectionResult
	if name == LocalName {
		start := time.Now()
		res, err := local.Detect(ctx, frame)
		if err != nil {
			return 0, nil, fmt.Errorf("local detect: %w", err)
		}
		metrics.DetectLatency.WithLabelValues(LocalName).Observe(float64(time.Since(start).Milliseconds()))
		result = res
	} else {
		result = r.detectRemote(ctx, name, selected, local, frame)
		if result == nil {
			res, err := local.Detect(ctx, frame)
			if err != nil {
				return 0, nil, fmt.Errorf("fallback detect: %w", err)
			}
			metrics.RecordFallback(name)
			result = res
		}
	}

	now := frame.CapturedAt
	if now.IsZero() {
		now = time.Now()
	}
	tracked := r.tracks.Update(result.Detections, now)
	score := r.scorer.Score(tracked, frame.Width, frame.Height, now)
	return score, tracked, nil
}

// detectRemote runs the guarded remote call. nil means the caller should fall
// back to local.
func (r *Router) detectRemote(ctx context.Context, name string, d detect.Detector, local detect.Detector, frame *detect.Frame) *detect.DetectionResult {
	halfOpen := r.breaker.HalfOpen()
	if err := r.breaker.Allow(); err != nil {
		return nil
	}

	// A half-open probe gets a short readiness wait; an unready remote counts
	// as a failed probe without burning a frame on the wire.
	if halfOpen {
		if p, ok := d.(probe); ok && !p.WaitReady(r.probeWait) {
			r.breaker.Failure()
			r.drain(d)
			return nil
		}
	}

	start := time.Now()
	res, err := d.Detect(ctx, frame)
	if err != nil {
		log.Printf("[Router] remote %s failed: %v", name, err)
		r.breaker.Failure()
		r.drain(d)
		return nil
	}
	metrics.DetectLatency.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	r.breaker.Success()
	return r.normalize(res, local)
}

func (r *Router) drain(d detect.Detector) {
	if dr, ok := d.(drainer); ok {
		dr.ClearQueue()
	}
}

// normalize maps remote class names through the local model's name-to-id
// table. Unknown names keep the detection but mark the class unknown.
func (r *Router) normalize(res *detect.DetectionResult, local detect.Detector) *detect.DetectionResult {
	for i := range res.Detections {
		d := &res.Detections[i]
		name := strings.ToLower(d.ClassName)
		d.ClassName = name
		if id, ok := r.classes[name]; ok {
			d.ClassID = id
		} else if d.ClassID == 0 && name != "" && !r.isID(0, name) {
			d.ClassID = detect.ClassUnknown
		}
	}
	return res
}

// isID reports whether name actually maps to id in the local table, guarding
// against zero-valued class ids from the wire being mistaken for class 0.
func (r *Router) isID(id int, name string) bool {
	got, ok := r.classes[name]
	return ok && got == id
}

// SortedClassNames is a debugging helper listing the known class vocabulary.
func (r *Router) SortedClassNames() []string {
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
