package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/network"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/node"
)

// Version is the current version of the OMEGA Engine.
const Version = "0.1.0"

// ServerConfig holds configuration for the gRPC control server.
type ServerConfig struct {
	// Address to listen on (e.g., ":50051")
	Address string `toml:"address"`

	// MaxRecvMsgSize is the maximum request size in bytes
	MaxRecvMsgSize int `toml:"max_recv_msg_size"`

	// MaxReceiveWait caps how long one Receive call may block
	MaxReceiveWait time.Duration `toml:"max_receive_wait"`

	Auth AuthConfig `toml:"auth"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:        ":50051",
		MaxRecvMsgSize: 1024 * 1024,
		MaxReceiveWait: 30 * time.Second,
	}
}

// Server implements ControlServer on top of a node.
type Server struct {
	UnimplementedControlServer

	config  *ServerConfig
	node    *node.Node
	auth    *Authenticator
	metrics *Metrics
	network *network.NetworkService
	logger  zerolog.Logger

	grpcServer *grpc.Server
	startTime  time.Time

	running bool
	mu      sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuthenticator requires tokens on every call.
func WithAuthenticator(a *Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithMetrics records per-method gRPC metrics and refreshes node gauges on
// Status.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithNetwork adds network status to Status responses.
func WithNetwork(ns *network.NetworkService) ServerOption {
	return func(s *Server) { s.network = ns }
}

// WithServerLogger sets the server logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a control server for n.
func NewServer(config *ServerConfig, n *node.Node, opts ...ServerOption) (*Server, error) {
	if n == nil {
		return nil, errors.New("nil node")
	}
	if config == nil {
		config = DefaultServerConfig()
	}

	s := &Server{
		config:    config,
		node:      n,
		logger:    zerolog.Nop(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	interceptors := []grpc.UnaryServerInterceptor{s.metricsInterceptor}
	if s.auth != nil {
		interceptors = append(interceptors, s.auth.UnaryInterceptor())
	}
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxRecvMsgSize),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	RegisterControlServer(s.grpcServer, s)
	return s, nil
}

// Serve serves on lis until Stop (blocking). It returns nil after a clean
// shutdown, including one requested before Serve was called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info().Str("address", lis.Addr().String()).Msg("control server listening")
	if err := s.grpcServer.Serve(lis); !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves (blocking).
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(lis)
}

// Stop gracefully stops the gRPC server. A Stop before Serve makes the
// later Serve return at once.
func (s *Server) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	// In-flight calls may still take the read lock.
	s.grpcServer.GracefulStop()
}

func (s *Server) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("method", info.FullMethod).Msg("control call failed")
	}
	return resp, err
}

// Send masks a payload for a target frequency and broadcasts it.
func (s *Server) Send(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	encoded, ok := fields["payload"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	payload, err := base64.StdEncoding.DecodeString(encoded.GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "payload must be base64")
	}
	target, ok := fields["target"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "target is required")
	}
	if _, isNumber := target.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return nil, status.Error(codes.InvalidArgument, "target must be a number")
	}

	if err := s.node.Send(ctx, payload, target.GetNumberValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Receive waits up to the requested duration for the next vector. A vector
// for another frequency and an elapsed wait both report delivered=false.
func (s *Server) Receive(ctx context.Context, req *durationpb.Duration) (*structpb.Struct, error) {
	wait := s.config.MaxReceiveWait
	if req != nil && req.IsValid() && req.AsDuration() > 0 && req.AsDuration() < wait {
		wait = req.AsDuration()
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	payload, err := s.node.Receive(waitCtx)
	switch {
	case err == nil && payload == nil:
		return structpb.NewStruct(map[string]interface{}{"delivered": false})
	case err == nil:
		return structpb.NewStruct(map[string]interface{}{
			"delivered": true,
			"payload":   base64.StdEncoding.EncodeToString(payload),
		})
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return structpb.NewStruct(map[string]interface{}{"delivered": false, "timed_out": true})
	default:
		return nil, toStatus(err)
	}
}

// Status reports node, worker pool and network statistics.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.node.Stats()

	out, err := toMap(stats)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	out["version"] = Version
	out["uptime_seconds"] = stats.Uptime.Seconds()

	s.mu.RLock()
	out["control_uptime_seconds"] = time.Since(s.startTime).Seconds()
	s.mu.RUnlock()

	if s.metrics != nil {
		s.metrics.UpdateWorkerPool(stats.Pool)
	}
	if s.network != nil {
		netStatus := s.network.GetStatus()
		if out["network"], err = toMap(netStatus); err != nil {
			return nil, status.Errorf(codes.Internal, "encode network status: %v", err)
		}
		if s.metrics != nil {
			s.metrics.UpdatePeers(netStatus.PeerCount)
		}
	}

	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return resp, nil
}

// SetFrequency retunes the node.
func (s *Server) SetFrequency(ctx context.Context, req *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	if err := s.node.SetFrequency(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// AdvanceEpoch moves the node to its next key epoch.
func (s *Server) AdvanceEpoch(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	return wrapperspb.UInt64(s.node.AdvanceEpoch()), nil
}

// toMap round-trips v through JSON into the shape structpb accepts.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// toStatus maps node errors onto gRPC codes.
func toStatus(err error) error {
	var te *core.TransportError
	switch {
	case errors.Is(err, core.ErrPayloadTooLarge), errors.Is(err, core.ErrInvalidParams):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrMalformedVector):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.As(err, &te):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
