package cloudroutev1

import "encoding/json"

// CodecName is the gRPC content-subtype both peers agree on.
const CodecName = "guardcar-json"

// Codec serializes cloudroute messages as JSON. The client forces it with
// grpc.ForceCodec(cloudroutev1.Codec{}) per call, the server installs it with
// grpc.ForceServerCodec(cloudroutev1.Codec{}).
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string { return CodecName }
