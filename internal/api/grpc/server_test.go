package grpcapi

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/store"
)

func setup(t *testing.T) (*grpc.ClientConn, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	lis := bufconn.Listen(1 << 20)
	srv, _ := NewServer(st, metrics.DefaultMetrics)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, st
}

func TestHealth(t *testing.T) {
	conn, _ := setup(t)

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.Status)
	}
}

func TestGetCall(t *testing.T) {
	conn, st := setup(t)
	ctx := context.Background()

	call, err := st.CreateCall(ctx, store.CallParams{Source: models.SourceWebhook})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	if _, err = st.AddSegments(ctx, call.ID, []models.SegmentInput{{Speaker: models.SpeakerAgent, Text: "hello"}}); err != nil {
		t.Fatalf("add segments: %v", err)
	}

	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ServiceName+"/GetCall", wrapperspb.String(call.ID), out)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}

	m := out.AsMap()
	if m["id"] != call.ID {
		t.Errorf("expected id %s, got %v", call.ID, m["id"])
	}
	segs, _ := m["segments"].([]any)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if seg := segs[0].(map[string]any); seg["text"] != "hello" {
		t.Errorf("expected segment text hello, got %v", seg["text"])
	}
}

func TestGetCall_Errors(t *testing.T) {
	conn, _ := setup(t)

	tests := []struct {
		name string
		id   string
		want codes.Code
	}{
		{"missing id", "", codes.InvalidArgument},
		{"unknown call", "nope", codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := conn.Invoke(context.Background(), "/"+ServiceName+"/GetCall", wrapperspb.String(tt.id), new(structpb.Struct))
			if got := status.Code(err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestListCalls(t *testing.T) {
	conn, st := setup(t)
	ctx := context.Background()

	for _, src := range []models.Source{models.SourceUpload, models.SourceUpload, models.SourceGoogleMeet} {
		if _, err := st.CreateCall(ctx, store.CallParams{Source: src}); err != nil {
			t.Fatalf("create call: %v", err)
		}
	}

	req, _ := structpb.NewStruct(map[string]any{"source": "upload", "limit": 1})
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/ListCalls", req, out); err != nil {
		t.Fatalf("ListCalls: %v", err)
	}

	m := out.AsMap()
	if m["total"] != float64(2) {
		t.Errorf("expected total 2, got %v", m["total"])
	}
	if calls, _ := m["calls"].([]any); len(calls) != 1 {
		t.Errorf("expected page of 1, got %d", len(calls))
	}

	bad, _ := structpb.NewStruct(map[string]any{"limit": 500})
	err := conn.Invoke(ctx, "/"+ServiceName+"/ListCalls", bad, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}
