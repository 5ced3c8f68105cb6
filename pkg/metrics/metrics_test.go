package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestRecordersUpdateCollectors(t *testing.T) {
	sentBefore := testutil.ToFloat64(samples.WithLabelValues("sent"))
	RecordSample(true)
	RecordSample(false)
	if got := testutil.ToFloat64(samples.WithLabelValues("sent")); got != sentBefore+1 {
		t.Fatalf("unexpected sent count: %v", got)
	}

	bytesBefore := testutil.ToFloat64(bytesSent)
	RecordWrite(36, nil)
	RecordWrite(0, errors.New("broken pipe"))
	if got := testutil.ToFloat64(bytesSent); got != bytesBefore+36 {
		t.Fatalf("unexpected bytes sent: %v", got)
	}

	SetConnectionState(2)
	if got := testutil.ToFloat64(connState); got != 2 {
		t.Fatalf("unexpected connection state: %v", got)
	}

	PeerConnected(true)
	PeerConnected(false)
	RecordFrame(true)
	RecordFrame(false)
	RecordSubscriberDrop()
}
