package detection

// BoundingBox locates one detection in model input coordinates (pixels in
// the 300x300 frame). Width and Height are always X2-X1 and Y2-Y1; they are
// carried on the wire because browser overlays consume them directly.
type BoundingBox struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box builds a BoundingBox from corner coordinates, deriving Width/Height.
func Box(x1, y1, x2, y2 float64) BoundingBox {
	return BoundingBox{
		X1:     x1,
		Y1:     y1,
		X2:     x2,
		Y2:     y2,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// Detection is a single detected object.
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// Request is a single-image detection request. ConfidenceThreshold and
// MaxDetections distinguish "absent" from an explicit zero, since truncating
// to zero detections is a legal ask.
type Request struct {
	ImageData           string   `json:"image_data"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MaxDetections       *int     `json:"max_detections,omitempty"`
	FrameID             string   `json:"frame_id,omitempty"`
	CaptureTS           float64  `json:"capture_ts,omitempty"`
}

// Response carries the detections plus the pipeline timing marks, all epoch
// seconds. CaptureTS <= RecvTS <= InferenceTS holds unless the caller
// supplied a later capture time.
type Response struct {
	FrameID     string      `json:"frame_id"`
	CaptureTS   float64     `json:"capture_ts"`
	RecvTS      float64     `json:"recv_ts"`
	InferenceTS float64     `json:"inference_ts"`
	Detections  []Detection `json:"detections"`
}

// cocoClasses is the 80-class COCO label set in model output order.
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard",
	"sports ball", "kite", "baseball bat", "baseball glove", "skateboard",
	"surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork",
	"knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv",
	"laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase",
	"scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassName maps a class index to its COCO label. Out-of-range indices map
// to "unknown" rather than failing the whole frame.
func ClassName(id int) string {
	if id < 0 || id >= len(cocoClasses) {
		return "unknown"
	}
	return cocoClasses[id]
}

// ClassID maps a COCO label back to its index, or -1 if unknown.
func ClassID(name string) int {
	for i, n := range cocoClasses {
		if n == name {
			return i
		}
	}
	return -1
}
