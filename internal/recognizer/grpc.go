package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/resilience"
	"github.com/GriffinCanCode/meetscribe/internal/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCClient calls a remote recognizer service. The wire contract is a
// single unary method taking raw PCM as BytesValue and returning the text
// as StringValue, so no generated stubs are needed.
type GRPCClient struct {
	conn     *grpc.ClientConn
	language string
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
}

// GRPCOption configures a GRPCClient.
type GRPCOption func(*GRPCClient)

// WithLanguage sends a recognition language hint with every call.
func WithLanguage(lang string) GRPCOption {
	return func(c *GRPCClient) { c.language = lang }
}

// WithGRPCRetry overrides the retry policy.
func WithGRPCRetry(cfg resilience.RetryConfig) GRPCOption {
	return func(c *GRPCClient) { c.retry = cfg }
}

// DialGRPC connects to addr without transport security.
func DialGRPC(addr string, opts ...GRPCOption) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "dial recognizer %s", addr)
	}
	return NewGRPCClient(conn, opts...), nil
}

// NewGRPCClient wraps an existing connection.
func NewGRPCClient(conn *grpc.ClientConn, opts ...GRPCOption) *GRPCClient {
	c := &GRPCClient{
		conn:    conn,
		breaker: resilience.New(resilience.RecognizerConfig("grpc-recognizer")),
		retry:   resilience.RecognizerRetryConfig(resilience.IsRetryableGRPC),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the gRPC connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Breaker exposes the client's circuit breaker.
func (c *GRPCClient) Breaker() *resilience.Breaker { return c.breaker }

// Transcribe sends one buffer for recognition.
func (c *GRPCClient) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	md := []string{SampleRateKey, strconv.Itoa(sampleRate)}
	if c.language != "" {
		md = append(md, LanguageKey, c.language)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, md...)
	req := wrapperspb.Bytes(EncodePCM(pcm))

	text, err := resilience.ExecuteWithResult(c.breaker, func() (string, error) {
		resp := new(wrapperspb.StringValue)
		err := resilience.Retry(ctx, c.retry, func() error {
			return c.conn.Invoke(ctx, TranscribeMethod, req, resp)
		})
		return resp.GetValue(), err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "recognizer circuit open")
		}
		appErr := apperrors.FromGRPCError(err)
		return "", apperrors.Wrap(appErr, apperrors.CodeRecognizer, fmt.Sprintf("transcribe %d samples", len(pcm)))
	}
	return text, nil
}

// Server is implemented by recognizer services that speak the same wire
// contract as GRPCClient.
type Server interface {
	Transcribe(ctx context.Context, audio *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
}

// ServiceDesc describes the recognizer service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meetscribe.v1.Recognizer",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Transcribe",
		Handler:    transcribeHandler,
	}},
	Metadata: "meetscribe/v1/recognizer.proto",
}

// RegisterServer registers srv on s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func transcribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Transcribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TranscribeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Transcribe(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// SampleRateFromContext reads the sample rate a client attached to an
// incoming call. Returns 0 if absent.
func SampleRateFromContext(ctx context.Context) int {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0
	}
	vals := md.Get(SampleRateKey)
	if len(vals) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(vals[0])
	return n
}
