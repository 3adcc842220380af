package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

func TestPayloadRoundTrip(t *testing.T) {
	data := encodePayload("doc-1", "run-1")

	documentID, runID, err := decodePayload(data)
	if err != nil {
		t.Fatalf("decodePayload() error = %v", err)
	}
	if documentID != "doc-1" || runID != "run-1" {
		t.Fatalf("got doc=%s run=%s", documentID, runID)
	}
}

func TestDecodePayloadRejectsMalformedMessages(t *testing.T) {
	for _, data := range []string{"", "doc-1", "doc-1|", "|run-1"} {
		if _, _, err := decodePayload([]byte(data)); err == nil {
			t.Fatalf("payload %q: expected error", data)
		}
	}
}

func TestClassifyNATSErrorRetriesConnectionFailures(t *testing.T) {
	for _, err := range []error{nats.ErrNoServers, nats.ErrTimeout, nats.ErrConnectionClosed, nats.ErrDisconnected} {
		class := classifyNATSError(err)
		if !class.Retryable || !class.RecordFailure {
			t.Fatalf("error %v: expected retryable recorded failure, got %+v", err, class)
		}
	}
}

func TestClassifyNATSErrorSkipsCancellation(t *testing.T) {
	class := classifyNATSError(context.Canceled)
	if class.Retryable || class.RecordFailure {
		t.Fatalf("expected non-retryable unrecorded classification, got %+v", class)
	}
}

func TestWrapTemporaryIfNeededKeepsNonRetryableErrors(t *testing.T) {
	plain := errors.New("bad subject")
	if got := wrapTemporaryIfNeeded(plain); domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("expected error to stay non-temporary, got %v", got)
	}
	if got := wrapTemporaryIfNeeded(nats.ErrNoServers); !domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("expected temporary wrap, got %v", got)
	}
}
