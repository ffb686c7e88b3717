package telegram

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
)

func TestClassifyErrorCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   error
		want transport.FailureKind
	}{
		{name: "blocked", in: &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, want: transport.FailureForbidden},
		{name: "deleted", in: &tele.Error{Code: 404, Description: "Not Found"}, want: transport.FailureNotFound},
		{name: "unreachable", in: &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, want: transport.FailureBadRequest},
		{name: "conflict", in: &tele.Error{Code: 409, Description: "Conflict"}, want: transport.FailureOther},
		{name: "flood", in: tele.FloodError{RetryAfter: 13}, want: transport.FailureOther},
		{name: "deadline", in: context.DeadlineExceeded, want: transport.FailureOther},
		{name: "unknown", in: errors.New("boom"), want: transport.FailureOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.in)
			if errors.Is(got, transport.ErrUnavailable) {
				t.Fatalf("classify(%v) reports unavailable, want kind %s", tt.in, tt.want)
			}
			if kind := transport.KindOf(got); kind != tt.want {
				t.Fatalf("classify(%v) kind = %s, want %s", tt.in, kind, tt.want)
			}
		})
	}
}

func TestClassifyNetworkErrorsAbort(t *testing.T) {
	t.Parallel()
	in := &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: errors.New("connection refused")}
	if got := classify(in); !errors.Is(got, transport.ErrUnavailable) {
		t.Fatalf("classify(%v) = %v, want ErrUnavailable", in, got)
	}
}

func TestSendBoundedByDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := send(ctx, func() (*tele.Message, error) {
		time.Sleep(500 * time.Millisecond)
		return &tele.Message{ID: 1}, nil
	})
	if took := time.Since(started); took > 250*time.Millisecond {
		t.Fatalf("send not bounded by the context, took %v", took)
	}
	if errors.Is(err, transport.ErrUnavailable) {
		t.Fatalf("deadline reported as unavailable: %v", err)
	}
	if kind := transport.KindOf(err); kind != transport.FailureOther {
		t.Fatalf("deadline kind = %s, want %s", kind, transport.FailureOther)
	}
}

func TestSendPropagatesCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := send(ctx, func() (*tele.Message, error) {
		time.Sleep(100 * time.Millisecond)
		return &tele.Message{ID: 1}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSendClassifiesCallErrors(t *testing.T) {
	t.Parallel()
	_, err := send(context.Background(), func() (*tele.Message, error) {
		return nil, &tele.Error{Code: 403, Description: "Forbidden"}
	})
	if kind := transport.KindOf(err); kind != transport.FailureForbidden {
		t.Fatalf("kind = %s, want %s", kind, transport.FailureForbidden)
	}
}
