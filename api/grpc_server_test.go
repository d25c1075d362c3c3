package api

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/node"
)

func newNode(t *testing.T, bus *node.MemoryBus, id string, omega float64, opts ...node.Option) *node.Node {
	t.Helper()
	cfg := node.DefaultConfig()
	cfg.ID = id
	cfg.Omega = omega
	cfg.Workers = 2
	cfg.Secret = hex.EncodeToString([]byte("api-test-network-secret"))
	n, err := node.New(cfg, bus.Attach(16), opts...)
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// startControl serves s over bufconn and returns a connected client.
func startControl(t *testing.T, s *Server) ControlClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return NewControlClient(cc)
}

func sendRequest(t *testing.T, payload []byte, target float64) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]interface{}{
		"payload": base64.StdEncoding.EncodeToString(payload),
		"target":  target,
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return req
}

func TestNewServerRequiresNode(t *testing.T) {
	if _, err := NewServer(nil, nil); err == nil {
		t.Fatal("Expected error for nil node")
	}
}

func TestControlSendReceive(t *testing.T) {
	bus := node.NewMemoryBus()
	alice := newNode(t, bus, "alice", 1.5)
	bob := newNode(t, bus, "bob", 1.5)

	aliceCtl := startControl(t, mustServer(t, alice))
	bobCtl := startControl(t, mustServer(t, bob))
	ctx := context.Background()

	if _, err := aliceCtl.Send(ctx, sendRequest(t, []byte("Hello, OMEGA!"), 1.5)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	resp, err := bobCtl.Receive(ctx, durationpb.New(2*time.Second))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !resp.Fields["delivered"].GetBoolValue() {
		t.Fatalf("Expected delivery, got %v", resp)
	}
	got, _ := base64.StdEncoding.DecodeString(resp.Fields["payload"].GetStringValue())
	if string(got) != "Hello, OMEGA!" {
		t.Errorf("Expected payload 'Hello, OMEGA!', got %q", got)
	}
}

func TestControlReceiveTimesOut(t *testing.T) {
	bus := node.NewMemoryBus()
	lonely := newNode(t, bus, "lonely", 1.0)
	ctl := startControl(t, mustServer(t, lonely))

	resp, err := ctl.Receive(context.Background(), durationpb.New(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if resp.Fields["delivered"].GetBoolValue() || !resp.Fields["timed_out"].GetBoolValue() {
		t.Errorf("Expected timed_out response, got %v", resp)
	}
	if got := lonely.Stats().TransportErrors; got != 0 {
		t.Errorf("Expected an idle poll not to count as a transport error, got %d", got)
	}
}

func TestStopBeforeServe(t *testing.T) {
	bus := node.NewMemoryBus()
	s := mustServer(t, newNode(t, bus, "early-stop", 1.0))

	s.Stop()

	served := make(chan error, 1)
	go func() {
		served <- s.Serve(bufconn.Listen(1024))
	}()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Expected clean return, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still blocking after Stop")
	}
}

func TestControlSendErrors(t *testing.T) {
	bus := node.NewMemoryBus()
	ctl := startControl(t, mustServer(t, newNode(t, bus, "sender", 1.0)))
	ctx := context.Background()

	tests := []struct {
		name string
		req  *structpb.Struct
	}{
		{"too large", sendRequest(t, make([]byte, 64), 1.0)},
		{"missing target", &structpb.Struct{Fields: map[string]*structpb.Value{
			"payload": structpb.NewStringValue("aGk="),
		}}},
		{"bad base64", &structpb.Struct{Fields: map[string]*structpb.Value{
			"payload": structpb.NewStringValue("!!"),
			"target":  structpb.NewNumberValue(1),
		}}},
		{"string target", &structpb.Struct{Fields: map[string]*structpb.Value{
			"payload": structpb.NewStringValue("aGk="),
			"target":  structpb.NewStringValue("1.0"),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ctl.Send(ctx, tt.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("Expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestControlStatusAndTuning(t *testing.T) {
	bus := node.NewMemoryBus()
	n := newNode(t, bus, "tuned", 1.0)
	metrics := NewMetrics("omega_test")
	ctl := startControl(t, mustServer(t, n, WithMetrics(metrics)))
	ctx := context.Background()

	if _, err := ctl.SetFrequency(ctx, wrapperspb.Double(2.5)); err != nil {
		t.Fatalf("SetFrequency failed: %v", err)
	}
	epoch, err := ctl.AdvanceEpoch(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("AdvanceEpoch failed: %v", err)
	}
	if epoch.GetValue() != 1 {
		t.Errorf("Expected epoch 1, got %d", epoch.GetValue())
	}

	st, err := ctl.Status(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Fields["id"].GetStringValue() != "tuned" {
		t.Errorf("Expected id 'tuned', got %v", st.Fields["id"])
	}
	if st.Fields["frequency"].GetNumberValue() != 2.5 {
		t.Errorf("Expected frequency 2.5, got %v", st.Fields["frequency"])
	}
	if st.Fields["version"].GetStringValue() != Version {
		t.Errorf("Expected version %s, got %v", Version, st.Fields["version"])
	}
	if st.Fields["pool"].GetStructValue() == nil {
		t.Error("Expected worker pool stats")
	}
}

func TestControlAuth(t *testing.T) {
	bus := node.NewMemoryBus()
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, Token: "s3cret"})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	ctl := startControl(t, mustServer(t, newNode(t, bus, "guarded", 1.0), WithAuthenticator(auth)))

	_, err = ctl.Status(context.Background(), &emptypb.Empty{})
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("Expected Unauthenticated without token, got %v", err)
	}

	bad := metadata.AppendToOutgoingContext(context.Background(), MetadataToken, "Bearer wrong")
	if _, err = ctl.Status(bad, &emptypb.Empty{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Expected Unauthenticated with wrong token, got %v", err)
	}

	good := metadata.AppendToOutgoingContext(context.Background(), MetadataToken, "Bearer s3cret")
	if _, err = ctl.Status(good, &emptypb.Empty{}); err != nil {
		t.Errorf("Expected success with token, got %v", err)
	}
}

func mustServer(t *testing.T, n *node.Node, opts ...ServerOption) *Server {
	t.Helper()
	s, err := NewServer(&ServerConfig{MaxRecvMsgSize: 1 << 20, MaxReceiveWait: 5 * time.Second}, n, opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}
