package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

type fakeStream struct{ ctx context.Context }

func (s fakeStream) SetHeader(metadata.MD) error  { return nil }
func (s fakeStream) SendHeader(metadata.MD) error { return nil }
func (s fakeStream) SetTrailer(metadata.MD)       {}
func (s fakeStream) Context() context.Context     { return s.ctx }
func (s fakeStream) SendMsg(any) error            { return nil }
func (s fakeStream) RecvMsg(any) error            { return nil }

func TestLoggingUnary_PassthroughAndLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

	ok := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	resp, err := ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, ok)
	if err != nil || resp.(string) != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	wantErr := status.Error(codes.Unavailable, "down")
	fail := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, fail)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("want 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[0].ContextMap()["peer"] != "127.0.0.1:12345" {
		t.Fatalf("peer not logged: %v", entries[0].ContextMap())
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/lms.Test/Panic"}
	panicH := func(ctx context.Context, req any) (any, error) { panic("oh no") }

	_, err := ic(context.Background(), "req", info, panicH)
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverStream_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverStream(zaptest.NewLogger(t))
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	err := ic(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error { panic("stream") })
	if status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	err = ic(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error { return nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoggingStream_LogsCode(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingStream(zap.New(core))
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	_ = ic(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client gone")
	})
	if logs.Len() != 1 || logs.All()[0].ContextMap()["code"] != "Canceled" {
		t.Fatalf("unexpected logs: %v", logs.All())
	}
}
