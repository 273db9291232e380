package recognizer

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/resilience"
	"github.com/GriffinCanCode/meetscribe/internal/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeServer struct {
	calls    atomic.Int32
	failures int32 // first N calls fail with Unavailable
	failWith error
	rate     atomic.Int32
	session  atomic.Value
	samples  atomic.Int32
}

func (s *fakeServer) Transcribe(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	n := s.calls.Add(1)
	s.rate.Store(int32(SampleRateFromContext(ctx)))
	s.session.Store(trace.SessionID(ctx))
	if s.failWith != nil {
		return nil, s.failWith
	}
	if n <= s.failures {
		return nil, status.Error(codes.Unavailable, "warming up")
	}
	s.samples.Store(int32(len(DecodePCM(in.GetValue()))))
	return wrapperspb.String("recognised"), nil
}

func startServer(t *testing.T, srv *fakeServer) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.UnaryInterceptor(trace.UnaryServerInterceptor()))
	RegisterServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		t.Fatal(err)
	}
	c := NewGRPCClient(conn,
		WithLanguage("ru"),
		WithGRPCRetry(resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, IsRetryable: resilience.IsRetryableGRPC}),
	)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGRPCTranscribe(t *testing.T) {
	srv := &fakeServer{}
	c := startServer(t, srv)

	ctx := trace.WithSession(context.Background(), "sess-42")
	text, err := c.Transcribe(ctx, make([]int16, 320), 16000)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "recognised" {
		t.Errorf("text = %q", text)
	}
	if srv.rate.Load() != 16000 || srv.samples.Load() != 320 {
		t.Errorf("server saw rate=%d samples=%d", srv.rate.Load(), srv.samples.Load())
	}
	if got, _ := srv.session.Load().(string); got != "sess-42" {
		t.Errorf("session metadata = %q", got)
	}
}

func TestGRPCRetriesTransientErrors(t *testing.T) {
	srv := &fakeServer{failures: 2}
	c := startServer(t, srv)

	if _, err := c.Transcribe(context.Background(), []int16{1}, 16000); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if srv.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", srv.calls.Load())
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	appErr := apperrors.New(apperrors.CodeInvalidArgument, "unsupported sample rate")
	srv := &fakeServer{failWith: appErr.GRPCStatus().Err()}
	c := startServer(t, srv)

	_, err := c.Transcribe(context.Background(), []int16{1}, 8000)
	if !apperrors.IsCode(err, apperrors.CodeRecognizer) {
		t.Errorf("error = %v, want RECOGNIZER", err)
	}
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("error = %v, want server code preserved", err)
	}
	if srv.calls.Load() != 1 {
		t.Errorf("non-retryable error retried: calls = %d", srv.calls.Load())
	}
}

func TestGRPCCircuitOpens(t *testing.T) {
	srv := &fakeServer{failWith: status.Error(codes.Internal, "crash")}
	c := startServer(t, srv)

	for i := 0; i < resilience.RecognizerThreshold; i++ {
		c.Transcribe(context.Background(), []int16{1}, 16000)
	}
	if c.Breaker().State() != resilience.Open {
		t.Fatalf("breaker = %v, want open", c.Breaker().State())
	}

	before := srv.calls.Load()
	_, err := c.Transcribe(context.Background(), []int16{1}, 16000)
	if !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("error = %v, want UNAVAILABLE", err)
	}
	if srv.calls.Load() != before {
		t.Error("open circuit still reached the server")
	}
}
