// Package track associates per-frame detections into persistent tracks and
// turns the tracked scene into a suspicion score.
package track

import (
	"sort"
	"time"

	"github.com/technosupport/guardcar/internal/detect"
)

// Track is one object followed across frames. IDs are unique for the process
// lifetime and never reused.
type Track struct {
	ID         uint64
	ClassID    int
	FirstSeen  time.Time
	LastSeen   time.Time
	X1, Y1     float64
	X2, Y2     float64
	Confidence float64

	consecutive int
	missed      int
	confirmed   bool
}

// Area returns the latest bbox area in square pixels.
func (t *Track) Area() float64 {
	w := t.X2 - t.X1
	h := t.Y2 - t.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ManagerConfig tunes the association behavior.
type ManagerConfig struct {
	// LostTrackBuffer is how many consecutive misses a confirmed track
	// survives.
	LostTrackBuffer int
	// FrameRate is the nominal camera rate; with LostTrackBuffer it bounds
	// how long a lost track lingers.
	FrameRate int
	// MinConsecutiveFrames is how many consecutive hits a track needs before
	// it is reported.
	MinConsecutiveFrames int
	// IoUThreshold is the minimum overlap for a detection to extend a track.
	IoUThreshold float64
	// MaxAge evicts any track whose last sighting is older than this.
	MaxAge time.Duration
}

// DefaultManagerConfig matches the tuning of the production tracker.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LostTrackBuffer:      30,
		FrameRate:            30,
		MinConsecutiveFrames: 15,
		IoUThreshold:         0.3,
		MaxAge:               time.Second,
	}
}

// Manager owns the track table. It is driven from the single frame-processing
// goroutine and needs no locking.
type Manager struct {
	cfg    ManagerConfig
	nextID uint64
	tracks map[uint64]*Track
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.LostTrackBuffer <= 0 {
		cfg.LostTrackBuffer = 30
	}
	if cfg.MinConsecutiveFrames <= 0 {
		cfg.MinConsecutiveFrames = 15
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Second
	}
	return &Manager{cfg: cfg, tracks: make(map[uint64]*Track)}
}

// Update matches the detections of one frame against the track table and
// returns the confirmed tracks, sorted by ID. Stale tracks are evicted at the
// end of every call.
func (m *Manager) Update(dets []detect.Detection, now time.Time) []*Track {
	matchedTracks := make(map[uint64]bool, len(m.tracks))
	matchedDets := make(map[int]bool, len(dets))

	// Greedy best-overlap association, same class only.
	type pair struct {
		trackID uint64
		detIdx  int
		iou     float64
	}
	var pairs []pair
	for id, t := range m.tracks {
		for i, d := range dets {
			if d.ClassID != t.ClassID {
				continue
			}
			iou := detect.IoU(trackBox(t), d)
			if iou >= m.cfg.IoUThreshold {
				pairs = append(pairs, pair{trackID: id, detIdx: i, iou: iou})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].iou != pairs[j].iou {
			return pairs[i].iou > pairs[j].iou
		}
		if pairs[i].trackID != pairs[j].trackID {
			return pairs[i].trackID < pairs[j].trackID
		}
		return pairs[i].detIdx < pairs[j].detIdx
	})

	for _, p := range pairs {
		if matchedTracks[p.trackID] || matchedDets[p.detIdx] {
			continue
		}
		matchedTracks[p.trackID] = true
		matchedDets[p.detIdx] = true

		t := m.tracks[p.trackID]
		d := dets[p.detIdx]
		t.LastSeen = now
		t.X1, t.Y1, t.X2, t.Y2 = d.X1, d.Y1, d.X2, d.Y2
		t.Confidence = d.Confidence
		t.consecutive++
		t.missed = 0
		if t.consecutive >= m.cfg.MinConsecutiveFrames {
			t.confirmed = true
		}
	}

	// New tracks for unmatched detections.
	for i, d := range dets {
		if matchedDets[i] {
			continue
		}
		m.nextID++
		m.tracks[m.nextID] = &Track{
			ID:          m.nextID,
			ClassID:     d.ClassID,
			FirstSeen:   now,
			LastSeen:    now,
			X1:          d.X1,
			Y1:          d.Y1,
			X2:          d.X2,
			Y2:          d.Y2,
			Confidence:  d.Confidence,
			consecutive: 1,
		}
		matchedTracks[m.nextID] = true
	}

	// Age out the rest.
	for id, t := range m.tracks {
		if !matchedTracks[id] {
			t.missed++
			t.consecutive = 0
			if !t.confirmed {
				delete(m.tracks, id)
				continue
			}
			if t.missed > m.cfg.LostTrackBuffer {
				delete(m.tracks, id)
				continue
			}
		}
		if now.Sub(t.LastSeen) > m.cfg.MaxAge {
			delete(m.tracks, id)
		}
	}

	return m.Confirmed()
}

// Confirmed returns the reportable tracks sorted by ID.
func (m *Manager) Confirmed() []*Track {
	out := make([]*Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		if t.confirmed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the full track-table size, confirmed or not.
func (m *Manager) Len() int { return len(m.tracks) }

func trackBox(t *Track) detect.Detection {
	return detect.Detection{X1: t.X1, Y1: t.Y1, X2: t.X2, Y2: t.Y2}
}
