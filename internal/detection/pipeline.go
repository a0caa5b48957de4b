package detection

import (
	"image"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/faris-sait/webrtc-vision/internal/metrics"
)

// Config wires a Pipeline. Engine may be nil to run on the fallback detector
// alone. Now is injectable for deterministic timestamp tests.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Engine  Engine
	Rand    *rand.Rand

	DefaultConfidenceThreshold float64
	DefaultMaxDetections       int

	Now func() time.Time
}

// Pipeline is the full single-frame detection path: decode and resize the
// payload, run inference with fallback, filter by confidence, truncate, and
// stamp timings. It is safe for concurrent use; each Detect call is
// independent and blocks only its caller.
type Pipeline struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	engine   Engine
	fallback *FallbackEngine

	defaultThreshold float64
	defaultMax       int

	now func() time.Time
}

func NewPipeline(cfg Config) *Pipeline {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		log:              cfg.Logger,
		metrics:          cfg.Metrics,
		engine:           cfg.Engine,
		fallback:         NewFallbackEngine(cfg.Rand),
		defaultThreshold: cfg.DefaultConfidenceThreshold,
		defaultMax:       cfg.DefaultMaxDetections,
		now:              now,
	}
}

// Detect processes one frame. On success the response carries a frame ID
// (the request's, or a fresh UUID), the capture/receive/inference
// timestamps, and the filtered, truncated detections. The only client error
// is ErrImageDecode; every other failure is absorbed by the fallback engine.
func (p *Pipeline) Detect(req Request) (Response, error) {
	recv := epochSeconds(p.now())
	p.metrics.Inc(metrics.FramesProcessed)

	frameID := req.FrameID
	if frameID == "" {
		frameID = uuid.NewString()
	}

	img, err := Preprocess(req.ImageData)
	if err != nil {
		p.metrics.Inc(metrics.ImageDecodeErrors)
		p.log.Warn("frame decode failed", "frame_id", frameID, "err", err)
		return Response{}, err
	}

	threshold := p.defaultThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}
	maxDetections := p.defaultMax
	if req.MaxDetections != nil {
		maxDetections = *req.MaxDetections
	}

	dets := p.infer(img, threshold)

	kept := dets[:0]
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	if maxDetections >= 0 && len(kept) > maxDetections {
		kept = kept[:maxDetections]
	}
	if kept == nil {
		kept = []Detection{}
	}

	capture := req.CaptureTS
	if capture == 0 {
		capture = recv
	}

	return Response{
		FrameID:     frameID,
		CaptureTS:   capture,
		RecvTS:      recv,
		InferenceTS: epochSeconds(p.now()),
		Detections:  kept,
	}, nil
}

func (p *Pipeline) infer(img *image.RGBA, threshold float64) []Detection {
	if p.engine != nil {
		dets, err := p.engine.Infer(img, threshold)
		if err == nil {
			return dets
		}
		p.log.Warn("engine inference failed, using fallback", "err", err)
	}
	p.metrics.Inc(metrics.FallbackInference)
	dets, _ := p.fallback.Infer(img, threshold)
	return dets
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
