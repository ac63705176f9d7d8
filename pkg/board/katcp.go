package board

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/snap_bringup/pkg/katcp"
)

const (
	// DefaultUploadPort is where the control server accepts the raw .fpg
	// after ?progremote.
	DefaultUploadPort = 3000

	// DefaultProgramTimeout bounds the wait for "#fpga ready" after the upload.
	DefaultProgramTimeout = 60 * time.Second
)

// KATCPTransport talks to the board's KATCP control server. It provides
// programming and register access; ADC and 10 GbE control are not
// available over this transport.
type KATCPTransport struct {
	client         *katcp.Client
	host           string
	log            *zap.Logger
	uploadPort     int
	programTimeout time.Duration
}

// KATCPOption configures a KATCPTransport.
type KATCPOption func(*KATCPTransport)

// WithUploadPort overrides DefaultUploadPort.
func WithUploadPort(port int) KATCPOption {
	return func(t *KATCPTransport) { t.uploadPort = port }
}

// WithProgramTimeout overrides DefaultProgramTimeout.
func WithProgramTimeout(d time.Duration) KATCPOption {
	return func(t *KATCPTransport) { t.programTimeout = d }
}

func openKATCP(ctx context.Context, target Target, hostport string, log *zap.Logger) (Transport, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	client, err := katcp.Dial(ctx, hostport, katcp.WithLogger(log.Named("katcp")))
	if err != nil {
		return nil, err
	}
	return NewKATCPTransport(client, host, log), nil
}

// NewKATCPTransport wraps an existing client; host is used for the upload
// connection.
func NewKATCPTransport(client *katcp.Client, host string, log *zap.Logger, opts ...KATCPOption) *KATCPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	t := &KATCPTransport{
		client:         client,
		host:           host,
		log:            log,
		uploadPort:     DefaultUploadPort,
		programTimeout: DefaultProgramTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *KATCPTransport) Ping(ctx context.Context) error {
	_, err := t.client.Request(ctx, "watchdog")
	return err
}

// Program sends ?progremote, streams the image to the upload port and waits
// for the server to announce "#fpga ready".
func (t *KATCPTransport) Program(ctx context.Context, image []byte) error {
	ready := t.client.Watch("fpga", func(m katcp.Message) bool {
		return len(m.Args) > 0 && m.Args[0] == "ready"
	})
	defer ready.Stop()

	port := strconv.Itoa(t.uploadPort)
	if _, err := t.client.Request(ctx, "progremote", port); err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.host, port))
	if err != nil {
		return fmt.Errorf("upload connection: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	n, err := conn.Write(image)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("upload: wrote %d of %d bytes: %w", n, len(image), err)
	}
	t.log.Debug("image uploaded", zap.Int("bytes", n))

	waitCtx, cancel := context.WithTimeout(ctx, t.programTimeout)
	defer cancel()
	if _, err := ready.Wait(waitCtx); err != nil {
		return err
	}
	return nil
}

func (t *KATCPTransport) ReadWord(ctx context.Context, register string, offset uint32) (uint32, error) {
	resp, err := t.client.Request(ctx, "wordread", register, strconv.FormatUint(uint64(offset), 10))
	if err != nil {
		return 0, err
	}
	if len(resp.Reply.Args) < 2 {
		return 0, fmt.Errorf("wordread %s: reply has no value", register)
	}
	v, err := strconv.ParseUint(resp.Reply.Args[1], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("wordread %s: bad value %q: %w", register, resp.Reply.Args[1], err)
	}
	return uint32(v), nil
}

func (t *KATCPTransport) WriteWord(ctx context.Context, register string, offset uint32, value uint32) error {
	_, err := t.client.Request(ctx, "wordwrite", register,
		strconv.FormatUint(uint64(offset), 10), fmt.Sprintf("0x%08x", value))
	return err
}

func (t *KATCPTransport) Close() error {
	return t.client.Close()
}
