package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/domain"
)

// Full method names of the remote generator service. Requests and responses
// are google.protobuf.Struct messages.
const (
	methodGenerate           = "/coach.v1.Generator/Generate"
	methodGenerateStructured = "/coach.v1.Generator/GenerateStructured"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMissingField             = errors.New("generator response missing field")
)

// GrpcClient provides a gRPC client to a remote generator service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
	addr   string
	cfg    Config
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the generator service at cfg.GrpcAddr.
func NewGrpcClient(cfg Config, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gcfg := DefaultGrpcClientConfig()
	if cfg.GrpcAddr != "" {
		gcfg.Address = cfg.GrpcAddr
	}

	kacp := keepalive.ClientParameters{
		Time:                gcfg.KeepaliveTime,
		Timeout:             gcfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(gcfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", gcfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), gcfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", gcfg.Address, err)
	}

	logger.Info("Connected to generator service", "address", gcfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		addr:   gcfg.Address,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks if the generator service is serving.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check: %s", resp.GetStatus())
	}
	return nil
}

// Generate implements coach.TextGenerator.
func (c *GrpcClient) Generate(ctx context.Context, instructions string, history []domain.Message) (coach.Reply, error) {
	msgs := make([]any, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	req, err := structpb.NewStruct(map[string]any{
		"instructions": instructions,
		"history":      msgs,
		"model":        c.cfg.ReplyModel,
		"temperature":  c.cfg.ReplyTemperature,
		"max_tokens":   float64(c.cfg.ReplyMaxTokens),
	})
	if err != nil {
		return coach.Reply{}, &PermanentError{Err: fmt.Errorf("encode request: %w", err)}
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodGenerate, req, resp); err != nil {
		return coach.Reply{}, fmt.Errorf("generate: %w", classifyStatus(err))
	}

	fields := resp.GetFields()
	text, ok := fields["reply"]
	if !ok {
		return coach.Reply{}, fmt.Errorf("%w: reply", errMissingField)
	}
	return coach.Reply{
		Text:               text.GetStringValue(),
		CheckpointComplete: fields["checkpoint_complete"].GetBoolValue(),
	}, nil
}

// GenerateStructured implements coach.StructuredGenerator.
func (c *GrpcClient) GenerateStructured(ctx context.Context, instructions string, schema []byte) (json.RawMessage, error) {
	var schemaValue map[string]any
	if err := json.Unmarshal(schema, &schemaValue); err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("decode schema: %w", err)}
	}
	req, err := structpb.NewStruct(map[string]any{
		"instructions": instructions,
		"schema":       schemaValue,
		"model":        c.cfg.ExtractionModel,
		"temperature":  c.cfg.ExtractionTemperature,
		"max_tokens":   float64(c.cfg.ExtractionMaxTokens),
	})
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("encode request: %w", err)}
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodGenerateStructured, req, resp); err != nil {
		return nil, fmt.Errorf("generate structured: %w", classifyStatus(err))
	}

	record, ok := resp.GetFields()["record"]
	if !ok || record.GetStructValue() == nil {
		return nil, fmt.Errorf("%w: record", errMissingField)
	}
	raw, err := record.GetStructValue().MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return raw, nil
}

// classifyStatus marks non-transient gRPC status codes as permanent.
func classifyStatus(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unimplemented, codes.PermissionDenied,
		codes.Unauthenticated, codes.NotFound, codes.FailedPrecondition:
		return &PermanentError{Err: err}
	}
	return err
}
