package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusOfMapsChain(t *testing.T) {
	cases := []struct {
		err  error
		want Status
	}{
		{err: nil, want: StatusOK},
		{err: NewStatusError(StatusNoLink, "tcp_connect", nil), want: StatusNoLink},
		{err: fmt.Errorf("chunk 3: %w", NewStatusError(StatusSendFailed, "tcp_send", errors.New("reset"))), want: StatusSendFailed},
		{err: fmt.Errorf("wrapped: %w", ErrCloseFailed), want: StatusCloseFailed},
		{err: errors.New("plain"), want: StatusOther},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.err); got != tc.want {
			t.Fatalf("StatusOf(%v)=%s want %s", tc.err, got, tc.want)
		}
	}
}

func TestStatusErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("broken pipe")
	err := fmt.Errorf("outer: %w", NewStatusError(StatusSendFailed, "tcp_send", cause))
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected errors.Is ErrSendFailed")
	}
	if errors.Is(err, ErrReceiveFailed) {
		t.Fatalf("send failure must not match ErrReceiveFailed")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay in the chain")
	}
}

func TestEnumStrings(t *testing.T) {
	if MessageUDPImage.String() != "udp_image" {
		t.Fatalf("unexpected name %q", MessageUDPImage.String())
	}
	if MessageType(8).Valid() {
		t.Fatalf("8 must not be a valid message type")
	}
	if CloseAfterSend.String() != "close_after_send" || ConnectionMode(2).Valid() {
		t.Fatalf("connection mode enum mismatch")
	}
	if StatusCloseFailed.String() != "close_failed" {
		t.Fatalf("unexpected status name %q", StatusCloseFailed.String())
	}
}
