package transport

import (
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/beamflow/internal/domain"
)

func TestSubjectRoundTrip(t *testing.T) {
	key := domain.MessageKey{Class: domain.ClassSamples, Station: 17, Beamlet: 300, Half: 1}
	subject, err := Subject("beamflow.node0", key)
	if err != nil {
		t.Fatalf("subject: %v", err)
	}
	if subject != "beamflow.node0.samples.17.300.1" {
		t.Fatalf("unexpected subject %s", subject)
	}
	got, err := ParseSubject("beamflow.node0", subject)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != key {
		t.Fatalf("expected %s, got %s", key, got)
	}
}

func TestParseSubjectRejectsForeignSubjects(t *testing.T) {
	bad := []string{
		"other.samples.1.2.0",
		"beamflow.node0.samples.1.2",
		"beamflow.node0.bogus.1.2.0",
		"beamflow.node0.samples.x.2.0",
		"beamflow.node0.samples.1.2.5",
	}
	for _, s := range bad {
		if _, err := ParseSubject("beamflow.node0", s); err == nil {
			t.Fatalf("expected error for subject %q", s)
		}
	}
}

func TestNATSTransportRoutesMessagesToReceives(t *testing.T) {
	var errs []error
	tr := newNATSTransport(nil, "beamflow.node0", "", func(err error) { errs = append(errs, err) })

	key := domain.MessageKey{Class: domain.ClassHeader, Station: 4}
	buf := make([]byte, 4)
	req, err := tr.Irecv(key, buf)
	if err != nil {
		t.Fatalf("irecv: %v", err)
	}

	tr.handle(&nats.Msg{Subject: "beamflow.node0.header.4.0.0", Data: []byte("hdr!")})
	tr.handle(&nats.Msg{Subject: "beamflow.node0.nonsense", Data: []byte("x")})

	n, err := req.Wait()
	if err != nil || string(buf[:n]) != "hdr!" {
		t.Fatalf("unexpected receive n=%d err=%v", n, err)
	}
	if tr.Rejected() != 1 || len(errs) != 1 {
		t.Fatalf("expected one rejected message, got %d (%v)", tr.Rejected(), errs)
	}
}

func TestNATSTransportSendOnlyRejectsReceive(t *testing.T) {
	tr := newNATSTransport(nil, "", "beamflow.node0", nil)
	if _, err := tr.Irecv(domain.MessageKey{Class: domain.ClassHeader}, nil); err == nil {
		t.Fatalf("expected error receiving on a send-only transport")
	}
}

func TestNATSConfigValidate(t *testing.T) {
	cfg := NATSConfig{Local: "beamflow.>"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected wildcard prefix to be rejected")
	}
	cfg = NATSConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing prefixes to be rejected")
	}
	if cfg.ApplyDefaults(); cfg.URL != nats.DefaultURL {
		t.Fatalf("expected default url, got %s", cfg.URL)
	}
}
