// Package anomalyv1 defines the signalguard.v1.AnomalyService gRPC service.
//
// The service has a single unary method, GetSnapshot, which takes
// google.protobuf.Empty and returns the current snapshot as a
// google.protobuf.Struct whose shape matches the HTTP /api/anomalies body:
//
//	{"services": {"orders": {"flag": 1, "score": 2.5, "errorRate": 0.5}}, "updatedAt": 1700000000.5}
//
// Using well-known types keeps the wire contract in sync with the JSON body
// without generated code.
package anomalyv1

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalguard/signalguard/pkg/storage"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "signalguard.v1.AnomalyService"

	// GetSnapshotFullMethod is the method path used on the wire.
	GetSnapshotFullMethod = "/" + ServiceName + "/GetSnapshot"
)

// AnomalyServiceServer is the server API for AnomalyService.
type AnomalyServiceServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterAnomalyServiceServer registers srv on s.
func RegisterAnomalyServiceServer(s grpc.ServiceRegistrar, srv AnomalyServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnomalyServiceServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetSnapshotFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnomalyServiceServer).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes AnomalyService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnomalyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSnapshot",
			Handler:    getSnapshotHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signalguard/v1/anomaly.proto",
}

// AnomalyServiceClient is the client API for AnomalyService.
type AnomalyServiceClient interface {
	GetSnapshot(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type anomalyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAnomalyServiceClient returns a client bound to cc.
func NewAnomalyServiceClient(cc grpc.ClientConnInterface) AnomalyServiceClient {
	return &anomalyServiceClient{cc: cc}
}

func (c *anomalyServiceClient) GetSnapshot(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetSnapshotFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotToStruct converts s into its wire form by way of its JSON encoding.
func SnapshotToStruct(s storage.Snapshot) (*structpb.Struct, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("snapshot to struct: %w", err)
	}
	return out, nil
}

// SnapshotFromStruct is the inverse of SnapshotToStruct.
func SnapshotFromStruct(st *structpb.Struct) (storage.Snapshot, error) {
	raw, err := protojson.Marshal(st)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("struct to json: %w", err)
	}
	var s storage.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return storage.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
