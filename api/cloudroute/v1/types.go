// Package cloudroutev1 is a hand-written binding for the cloudroute.v1 gRPC
// service. Messages travel through the JSON codec in codec.go rather than
// protobuf-generated code, so both ends of the stream must be built from this
// package (the edge client and cmd/cloud-sim are). cloudroute.proto documents
// the contract.
package cloudroutev1

// DetectionRequest carries one JPEG frame to the cloud detector.
type DetectionRequest struct {
	Frame   []byte `json:"frame,omitempty"`
	Width   int32  `json:"width,omitempty"`
	Height  int32  `json:"height,omitempty"`
	FrameID uint64 `json:"frame_id,omitempty"`
}

// Detection is one object hypothesis. Coordinates are pixels in the frame the
// request carried.
type Detection struct {
	ClassID    int32   `json:"class_id,omitempty"`
	ClassName  string  `json:"class_name,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	X1         float32 `json:"x1,omitempty"`
	Y1         float32 `json:"y1,omitempty"`
	X2         float32 `json:"x2,omitempty"`
	Y2         float32 `json:"y2,omitempty"`
}

// DetectionResult answers the request with the same frame_id.
type DetectionResult struct {
	Detections []*Detection `json:"detections,omitempty"`
	FrameID    uint64       `json:"frame_id,omitempty"`
}
