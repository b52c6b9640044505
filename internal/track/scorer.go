package track

import (
	"math"
	"sync"
	"time"
)

// Per-class weight defaults, class id to k. Unlisted classes use 1.0.
func DefaultWeights() map[int]float64 {
	return map[int]float64{
		0: 1.6, // person
		1: 0.6, // bicycle
		2: 1.0, // car
		3: 1.0, // motorcycle
		5: 1.4, // bus
		7: 1.4, // truck
	}
}

// Scorer maps the confirmed track set to a suspicion score in [0,100]. The
// weight map is hot-reloadable from the control dispatcher.
type Scorer struct {
	mu      sync.RWMutex
	weights map[int]float64
}

func NewScorer(weights map[int]float64) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	s := &Scorer{}
	s.SetWeights(weights)
	return s
}

// SetWeights replaces the per-class weight table.
func (s *Scorer) SetWeights(weights map[int]float64) {
	cp := make(map[int]float64, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	s.mu.Lock()
	s.weights = cp
	s.mu.Unlock()
}

// Weights returns a copy of the current table.
func (s *Scorer) Weights() map[int]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[int]float64, len(s.weights))
	for k, v := range s.weights {
		cp[k] = v
	}
	return cp
}

func (s *Scorer) weight(classID int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.weights[classID]; ok {
		return w
	}
	return 1.0
}

// sigmoid is S(x; m, k, M) = M / (1 + exp(-k*(x - m))).
func sigmoid(x, midpoint, slope, max float64) float64 {
	return max / (1 + math.Exp(-slope*(x-midpoint)))
}

// Score computes the suspicion score for the current scene. Tracks must be
// sorted by ID by the caller (Manager.Update guarantees it); float addition is
// order-sensitive and the score has to reproduce bit-for-bit given the same
// inputs.
func (s *Scorer) Score(tracks []*Track, frameW, frameH int, now time.Time) float64 {
	if len(tracks) == 0 || frameW <= 0 || frameH <= 0 {
		return 0
	}

	frameArea := float64(frameW) * float64(frameH)
	var num, den float64
	for _, t := range tracks {
		k := s.weight(t.ClassID)
		areaRatioPct := 100 * t.Area() / frameArea
		durationS := now.Sub(t.FirstSeen).Seconds()

		areaScore := sigmoid(areaRatioPct, 25, 0.12*k, 60)
		timeScore := sigmoid(durationS, 4, 0.08*k, 40)
		baseline := areaScore + timeScore

		e := math.Exp(baseline)
		num += e * baseline
		den += e
	}

	score := num / den
	if score > 100 {
		score = 100
	}
	return score
}
