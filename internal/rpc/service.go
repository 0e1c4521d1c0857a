// Package rpc defines the gRPC service a worker process exposes to the
// master. Messages are domain JSON carried in google.protobuf.Struct, so the
// service descriptor is registered by hand instead of generated.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "clipdispatch.worker.v1.Worker"

	ExecuteMethod = "/" + ServiceName + "/Execute"
	ReportsMethod = "/" + ServiceName + "/Reports"
)

// WorkerServer is implemented by the worker process.
type WorkerServer interface {
	// Execute accepts a dispatch message and runs it asynchronously.
	Execute(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Reports streams worker messages back to the master.
	Reports(*emptypb.Empty, ReportsServerStream) error
}

// ReportsServerStream is the server side of the Reports stream.
type ReportsServerStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// RegisterWorkerServer registers srv on s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&workerServiceDesc, srv)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Reports",
			Handler:       reportsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "clipdispatch/worker/v1/worker.proto",
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reportsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WorkerServer).Reports(in, &reportsServerStream{stream})
}

type reportsServerStream struct {
	grpc.ServerStream
}

func (x *reportsServerStream) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// WorkerClient is the master side of the service.
type WorkerClient interface {
	Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Reports(ctx context.Context, opts ...grpc.CallOption) (ReportsClientStream, error)
}

// ReportsClientStream is the client side of the Reports stream.
type ReportsClientStream interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type workerClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerClient creates a client on cc.
func NewWorkerClient(cc grpc.ClientConnInterface) WorkerClient {
	return &workerClient{cc: cc}
}

func (c *workerClient) Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ExecuteMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) Reports(ctx context.Context, opts ...grpc.CallOption) (ReportsClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &workerServiceDesc.Streams[0], ReportsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &reportsClientStream{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type reportsClientStream struct {
	grpc.ClientStream
}

func (x *reportsClientStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
