package cloudroutev1

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "cloudroute.v1.CloudRoute"

	methodCloudRoute       = "/cloudroute.v1.CloudRoute/CloudRoute"
	methodCloudRouteStream = "/cloudroute.v1.CloudRoute/CloudRouteStream"
)

// CloudRouteClient mirrors the service definition in cloudroute.proto.
type CloudRouteClient interface {
	CloudRoute(ctx context.Context, in *DetectionRequest, opts ...grpc.CallOption) (*DetectionResult, error)
	CloudRouteStream(ctx context.Context, opts ...grpc.CallOption) (CloudRoute_CloudRouteStreamClient, error)
}

type cloudRouteClient struct {
	cc grpc.ClientConnInterface
}

func NewCloudRouteClient(cc grpc.ClientConnInterface) CloudRouteClient {
	return &cloudRouteClient{cc: cc}
}

func (c *cloudRouteClient) CloudRoute(ctx context.Context, in *DetectionRequest, opts ...grpc.CallOption) (*DetectionResult, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	out := new(DetectionResult)
	if err := c.cc.Invoke(ctx, methodCloudRoute, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

var cloudRouteStreamDesc = &grpc.StreamDesc{
	StreamName:    "CloudRouteStream",
	ServerStreams: true,
	ClientStreams: true,
}

func (c *cloudRouteClient) CloudRouteStream(ctx context.Context, opts ...grpc.CallOption) (CloudRoute_CloudRouteStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, cloudRouteStreamDesc, methodCloudRouteStream, opts...)
	if err != nil {
		return nil, err
	}
	return &cloudRouteStreamClient{stream}, nil
}

// CloudRoute_CloudRouteStreamClient is the client half of the bidirectional
// stream.
type CloudRoute_CloudRouteStreamClient interface {
	Send(*DetectionRequest) error
	Recv() (*DetectionResult, error)
	grpc.ClientStream
}

type cloudRouteStreamClient struct {
	grpc.ClientStream
}

func (x *cloudRouteStreamClient) Send(m *DetectionRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *cloudRouteStreamClient) Recv() (*DetectionResult, error) {
	m := new(DetectionResult)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
