package cloudroutev1

import (
	"context"

	"google.golang.org/grpc"
)

// CloudRouteServer is implemented by detection backends (cmd/cloud-sim, tests).
type CloudRouteServer interface {
	CloudRoute(context.Context, *DetectionRequest) (*DetectionResult, error)
	CloudRouteStream(CloudRoute_CloudRouteStreamServer) error
}

// CloudRoute_CloudRouteStreamServer is the server half of the bidirectional
// stream.
type CloudRoute_CloudRouteStreamServer interface {
	Send(*DetectionResult) error
	Recv() (*DetectionRequest, error)
	grpc.ServerStream
}

type cloudRouteStreamServer struct {
	grpc.ServerStream
}

func (x *cloudRouteStreamServer) Send(m *DetectionResult) error {
	return x.ServerStream.SendMsg(m)
}

func (x *cloudRouteStreamServer) Recv() (*DetectionRequest, error) {
	m := new(DetectionRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterCloudRouteServer wires srv into s. The server must be constructed
// with grpc.ForceServerCodec(Codec{}) so inbound frames decode with the same
// codec the client forces.
func RegisterCloudRouteServer(s grpc.ServiceRegistrar, srv CloudRouteServer) {
	s.RegisterService(&CloudRoute_ServiceDesc, srv)
}

func cloudRouteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CloudRouteServer).CloudRoute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: methodCloudRoute,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CloudRouteServer).CloudRoute(ctx, req.(*DetectionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cloudRouteStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(CloudRouteServer).CloudRouteStream(&cloudRouteStreamServer{stream})
}

// CloudRoute_ServiceDesc matches cloudroute.proto.
var CloudRoute_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CloudRouteServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CloudRoute",
			Handler:    cloudRouteHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CloudRouteStream",
			Handler:       cloudRouteStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "api/cloudroute/v1/cloudroute.proto",
}
