package events

import (
	"encoding/json"
	"fmt"
)

// RelatedTo values on ResponseMessage, telling the UI which mutation a
// response answers.
const (
	RelatedCloud     = "cloud"
	RelatedSuspicion = "suspicion"
	RelatedGeneral   = "general"
)

// SuspicionFrameMessage carries one per-frame score, edge to backend.
type SuspicionFrameMessage struct {
	SuspicionScore float64 `json:"suspicion_score"`
}

// RecordingStatusMessage mirrors a recording-state transition.
type RecordingStatusMessage struct {
	Recording bool `json:"recording"`
}

// ResponseMessage answers exactly one control mutation.
type ResponseMessage struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RelatedTo string `json:"related_to"`
}

// FrameMessage mirrors one camera frame to the backend, JPEG base64-encoded.
type FrameMessage struct {
	JPEGBytes string `json:"jpeg_bytes"`
}

// CloudProviderConfigMessage registers (delete=false) or removes
// (delete=true) a remote detection provider. ServerCertification is the
// pinned server certificate, base64 DER.
type CloudProviderConfigMessage struct {
	ProviderName        string `json:"provider_name"`
	ConnectionIP        string `json:"connection_ip"`
	ServerCertification string `json:"server_certification"`
	Delete              bool   `json:"delete"`
}

// SuspicionConfigMessage updates the recording threshold and, when non-empty,
// the per-class weight table. Weight keys are class ids as strings; the
// dispatcher coerces them.
type SuspicionConfigMessage struct {
	Threshold    int                `json:"threshold"`
	ClassWeights map[string]float64 `json:"class_weights"`
}

// ControlMessage is the tagged union the dispatcher drains. Exactly one field
// is non-nil; Queue names the queue it arrived on.
type ControlMessage struct {
	Queue     string
	Provider  *CloudProviderConfigMessage
	Suspicion *SuspicionConfigMessage
}

// DecodeControl dispatches on the consuming queue name, the discriminator
// for the otherwise untagged JSON bodies.
func DecodeControl(queue string, data []byte) (*ControlMessage, error) {
	switch queue {
	case CloudProviderConfigQueue:
		var m CloudProviderConfigMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", queue, err)
		}
		if m.ProviderName == "" {
			return nil, fmt.Errorf("decode %s: missing provider_name", queue)
		}
		return &ControlMessage{Queue: queue, Provider: &m}, nil
	case SuspicionConfigQueue:
		var m SuspicionConfigMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", queue, err)
		}
		return &ControlMessage{Queue: queue, Suspicion: &m}, nil
	}
	return nil, fmt.Errorf("unknown control queue %q", queue)
}
