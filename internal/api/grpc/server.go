// Package grpcapi exposes a read-only call query service over gRPC.
//
// Requests and responses use protobuf well-known types so that clients can
// call the service with grpcurl or any generic protobuf client.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "callmonitoring.v1.CallService"

// CallReader is the store surface the service reads from.
type CallReader interface {
	GetCall(ctx context.Context, id string) (*models.CallDetail, error)
	ListCalls(ctx context.Context, f store.CallFilter) ([]models.Call, int, error)
}

// CallServiceServer is implemented by Server.
type CallServiceServer interface {
	GetCall(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	ListCalls(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Server answers call queries.
type Server struct {
	calls CallReader
}

// NewServer builds a gRPC server with health, reflection and the call service
// registered. The returned health server lets the caller flip serving status
// during shutdown.
func NewServer(calls CallReader, m *metrics.Metrics) (*grpc.Server, *health.Server) {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	Register(g, calls)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)
	return g, hs
}

// Register adds the call service to g.
func Register(g grpc.ServiceRegistrar, calls CallReader) {
	g.RegisterService(&serviceDesc, &Server{calls: calls})
}

// GetCall returns one call with segments and analyses.
func (s *Server) GetCall(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "call id is required")
	}
	detail, err := s.calls.GetCall(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(detail)
}

// ListCalls returns a page of calls. Recognized request fields are source,
// limit and offset.
func (s *Server) ListCalls(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := store.CallFilter{}
	fields := in.GetFields()
	if v, ok := fields["source"]; ok {
		f.Source = v.GetStringValue()
	}
	if v, ok := fields["limit"]; ok {
		f.Limit = int(v.GetNumberValue())
	}
	if v, ok := fields["offset"]; ok {
		f.Offset = int(v.GetNumberValue())
	}
	if f.Limit < 0 || f.Limit > 100 || f.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be 1..100 and offset >= 0")
	}

	calls, total, err := s.calls.ListCalls(ctx, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"calls": calls, "total": total})
}

func toStatus(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return status.Error(codes.NotFound, "call not found")
	}
	return status.Error(codes.Internal, err.Error())
}

// toStruct converts v through its JSON form so responses match the REST API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err = json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CallServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCall", Handler: getCallHandler},
		{MethodName: "ListCalls", Handler: listCallsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func getCallHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CallServiceServer).GetCall(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetCall"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CallServiceServer).GetCall(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listCallsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CallServiceServer).ListCalls(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListCalls"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CallServiceServer).ListCalls(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
