package transport

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// NATSConfig names the endpoints of one point-to-point link. Local is the
// subject prefix this process receives on; Remote is the peer's prefix.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Local         string        `yaml:"local"`
	Remote        string        `yaml:"remote"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

func (c *NATSConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "beamflow"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 250 * time.Millisecond
	}
}

func (c *NATSConfig) Validate() error {
	if c.Local == "" && c.Remote == "" {
		return fmt.Errorf("at least one of local or remote subject prefix is required")
	}
	for _, p := range []string{c.Local, c.Remote} {
		if strings.ContainsAny(p, "*> ") {
			return fmt.Errorf("subject prefix %q must not contain wildcards or spaces", p)
		}
	}
	return nil
}

// NATSTransport carries tagged transfers as NATS messages with subjects
// <prefix>.<class>.<station>.<beamlet>.<half>. Messages published by one
// connection on one subject arrive in order, which gives the per-key FIFO
// matching the receiver relies on.
type NATSTransport struct {
	nc       *nats.Conn
	ownsConn bool
	local    string
	remote   string
	sub      *nats.Subscription
	box      *mailbox
	rejected atomic.Uint64
	onError  func(error)
}

// DialNATS connects to the configured server and starts listening on the
// local prefix.
func DialNATS(cfg NATSConfig, onError func(error)) (*NATSTransport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	t, err := NewNATSTransport(nc, cfg.Local, cfg.Remote, onError)
	if err != nil {
		nc.Close()
		return nil, err
	}
	t.ownsConn = true
	return t, nil
}

// NewNATSTransport wraps an existing connection. An empty local prefix makes
// a send-only transport.
func NewNATSTransport(nc *nats.Conn, local, remote string, onError func(error)) (*NATSTransport, error) {
	t := newNATSTransport(nc, local, remote, onError)
	if nc != nil && local != "" {
		sub, err := nc.Subscribe(local+".>", t.handle)
		if err != nil {
			return nil, fmt.Errorf("nats subscribe %s.>: %w", local, err)
		}
		if err := sub.SetPendingLimits(-1, -1); err != nil {
			_ = sub.Unsubscribe()
			return nil, err
		}
		t.sub = sub
	}
	return t, nil
}

func newNATSTransport(nc *nats.Conn, local, remote string, onError func(error)) *NATSTransport {
	if onError == nil {
		onError = func(error) {}
	}
	return &NATSTransport{
		nc:      nc,
		local:   local,
		remote:  remote,
		box:     newMailbox(),
		onError: onError,
	}
}

func (t *NATSTransport) handle(msg *nats.Msg) {
	key, err := ParseSubject(t.local, msg.Subject)
	if err == nil {
		var tag uint32
		if tag, err = key.Encode(); err == nil {
			err = t.box.deliver(tag, msg.Data)
		}
	}
	if err != nil {
		t.rejected.Add(1)
		t.onError(fmt.Errorf("nats message on %s: %w", msg.Subject, err))
	}
}

func (t *NATSTransport) Irecv(key domain.MessageKey, buf []byte) (ports.Request, error) {
	if t.local == "" {
		return nil, fmt.Errorf("nats transport has no local subject prefix")
	}
	return t.box.post(key, buf)
}

func (t *NATSTransport) Isend(key domain.MessageKey, payload []byte) (ports.Request, error) {
	if t.remote == "" {
		return nil, fmt.Errorf("nats transport has no remote subject prefix")
	}
	subject, err := Subject(t.remote, key)
	if err != nil {
		return nil, err
	}
	if err := t.nc.Publish(subject, payload); err != nil {
		return completed(0, fmt.Errorf("nats publish %s: %w", subject, err)), nil
	}
	return completed(len(payload), nil), nil
}

// Flush waits until the server has processed every published message.
func (t *NATSTransport) Flush() error {
	if t.nc == nil {
		return nil
	}
	return t.nc.Flush()
}

// Rejected counts messages that could not be routed to a receive.
func (t *NATSTransport) Rejected() uint64 { return t.rejected.Load() }

func (t *NATSTransport) Close() error {
	var err error
	if t.sub != nil {
		err = t.sub.Unsubscribe()
	}
	t.box.close()
	if t.ownsConn && t.nc != nil {
		t.nc.Close()
	}
	return err
}

func Subject(prefix string, key domain.MessageKey) (string, error) {
	if _, err := key.Encode(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s.%d.%d.%d", prefix, key.Class, key.Station, key.Beamlet, key.Half), nil
}

func ParseSubject(prefix, subject string) (domain.MessageKey, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return domain.MessageKey{}, fmt.Errorf("subject %q outside prefix %q", subject, prefix)
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 4 {
		return domain.MessageKey{}, fmt.Errorf("subject %q: want class.station.beamlet.half", subject)
	}

	var key domain.MessageKey
	switch parts[0] {
	case domain.ClassHeader.String():
		key.Class = domain.ClassHeader
	case domain.ClassSamples.String():
		key.Class = domain.ClassSamples
	case domain.ClassFlags.String():
		key.Class = domain.ClassFlags
	case domain.ClassMetadata.String():
		key.Class = domain.ClassMetadata
	case domain.ClassPartial.String():
		key.Class = domain.ClassPartial
	default:
		return domain.MessageKey{}, fmt.Errorf("subject %q: unknown class %q", subject, parts[0])
	}

	nums := make([]int, 3)
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return domain.MessageKey{}, fmt.Errorf("subject %q: %w", subject, err)
		}
		nums[i] = n
	}
	key.Station, key.Beamlet, key.Half = nums[0], nums[1], nums[2]
	if _, err := key.Encode(); err != nil {
		return domain.MessageKey{}, err
	}
	return key, nil
}

var _ ports.Transport = (*NATSTransport)(nil)
