package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/beamflow/internal/domain"
)

func TestMemTransportReceiveBeforeSend(t *testing.T) {
	tr := NewMemTransport()
	defer tr.Close()

	key := domain.MessageKey{Class: domain.ClassSamples, Station: 1, Beamlet: 2}
	buf := make([]byte, 8)
	req, err := tr.Irecv(key, buf)
	if err != nil {
		t.Fatalf("irecv: %v", err)
	}
	select {
	case <-req.Done():
		t.Fatalf("receive completed before any send")
	default:
	}

	if _, err := tr.Isend(key, []byte("abc")); err != nil {
		t.Fatalf("isend: %v", err)
	}
	n, err := req.Wait()
	if err != nil || n != 3 || string(buf[:n]) != "abc" {
		t.Fatalf("unexpected receive n=%d err=%v buf=%q", n, err, buf[:n])
	}
}

func TestMemTransportSendBeforeReceiveIsCopied(t *testing.T) {
	tr := NewMemTransport()
	defer tr.Close()

	key := domain.MessageKey{Class: domain.ClassFlags, Station: 0, Beamlet: 0}
	payload := []byte("xyz")
	if _, err := tr.Isend(key, payload); err != nil {
		t.Fatalf("isend: %v", err)
	}
	payload[0] = 'Q'
	if tr.Pending() != 1 {
		t.Fatalf("expected one pending message, got %d", tr.Pending())
	}

	buf := make([]byte, 3)
	req, _ := tr.Irecv(key, buf)
	if _, err := req.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(buf) != "xyz" {
		t.Fatalf("expected sender's original bytes, got %q", buf)
	}
	if tr.Pending() != 0 {
		t.Fatalf("expected no pending messages, got %d", tr.Pending())
	}
}

func TestMemTransportMatchesPerKeyInOrder(t *testing.T) {
	tr := NewMemTransport()
	defer tr.Close()

	a := domain.MessageKey{Class: domain.ClassSamples, Station: 1, Beamlet: 1, Half: 0}
	b := domain.MessageKey{Class: domain.ClassSamples, Station: 1, Beamlet: 1, Half: 1}

	bufA1, bufA2, bufB := make([]byte, 1), make([]byte, 1), make([]byte, 1)
	reqA1, _ := tr.Irecv(a, bufA1)
	reqB, _ := tr.Irecv(b, bufB)
	reqA2, _ := tr.Irecv(a, bufA2)

	tr.Isend(b, []byte{'b'})
	tr.Isend(a, []byte{'1'})
	tr.Isend(a, []byte{'2'})

	for _, r := range []interface{ Wait() (int, error) }{reqA1, reqA2, reqB} {
		if _, err := r.Wait(); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if bufA1[0] != '1' || bufA2[0] != '2' || bufB[0] != 'b' {
		t.Fatalf("cross-matched transfers: a1=%c a2=%c b=%c", bufA1[0], bufA2[0], bufB[0])
	}
}

func TestMemTransportTruncation(t *testing.T) {
	tr := NewMemTransport()
	defer tr.Close()

	key := domain.MessageKey{Class: domain.ClassHeader, Station: 3}
	req, _ := tr.Irecv(key, make([]byte, 2))
	tr.Isend(key, []byte("too long"))
	if _, err := req.Wait(); !errors.Is(err, domain.ErrTruncated) {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestMemTransportCloseFailsPending(t *testing.T) {
	tr := NewMemTransport()
	key := domain.MessageKey{Class: domain.ClassHeader, Station: 3}
	req, _ := tr.Irecv(key, make([]byte, 2))

	tr.Close()
	select {
	case <-req.Done():
	case <-time.After(time.Second):
		t.Fatalf("pending receive not completed by close")
	}
	if _, err := req.Wait(); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if _, err := tr.Irecv(key, nil); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected irecv after close to fail, got %v", err)
	}
}

func TestMemTransportRejectsInvalidKey(t *testing.T) {
	tr := NewMemTransport()
	defer tr.Close()
	if _, err := tr.Isend(domain.MessageKey{Class: domain.ClassSamples, Half: 3}, nil); err == nil {
		t.Fatalf("expected invalid key error")
	}
}
