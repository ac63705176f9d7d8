package katcp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer answers requests read from one end of a pipe.
type fakeServer struct {
	conn net.Conn
	done chan struct{}
}

func (s *fakeServer) send(msg Message) {
	_, _ = s.conn.Write(msg.Marshal())
}

func newPipeClient(t *testing.T, handle func(s *fakeServer, req Message)) *Client {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	srv := &fakeServer{conn: serverConn, done: make(chan struct{})}
	go func() {
		defer close(srv.done)
		sc := bufio.NewScanner(serverConn)
		for sc.Scan() {
			req, err := ParseMessage(sc.Bytes())
			if err != nil {
				continue
			}
			handle(srv, req)
		}
	}()

	c := NewClient(clientConn)
	t.Cleanup(func() {
		_ = c.Close()
		_ = serverConn.Close()
		<-srv.done
	})
	return c
}

func TestClientRequestCollectsInforms(t *testing.T) {
	c := newPipeClient(t, func(s *fakeServer, req Message) {
		if req.Name != "listdev" {
			s.send(Message{Type: Reply, Name: req.Name, Args: []string{StatusInvalid}})
			return
		}
		s.send(Message{Type: Inform, Name: "log", Args: []string{"info", "unrelated"}})
		s.send(Message{Type: Inform, Name: "listdev", Args: []string{"sys_clkcounter"}})
		s.send(Message{Type: Inform, Name: "listdev", Args: []string{"ch_1_sel"}})
		s.send(Message{Type: Reply, Name: "listdev", Args: []string{StatusOK, "2"}})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := c.Request(ctx, "listdev")
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if len(resp.Informs) != 2 {
		t.Fatalf("informs = %d, want 2", len(resp.Informs))
	}
	if resp.Informs[1].Args[0] != "ch_1_sel" {
		t.Fatalf("second inform = %v", resp.Informs[1])
	}
	if resp.Reply.Args[1] != "2" {
		t.Fatalf("reply = %v", resp.Reply)
	}
}

func TestClientRequestFailure(t *testing.T) {
	c := newPipeClient(t, func(s *fakeServer, req Message) {
		s.send(Message{Type: Reply, Name: req.Name, Args: []string{StatusFail, "no such register"}})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.Request(ctx, "wordread", "missing", "0")
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RequestError", err)
	}
	if rerr.Status != StatusFail || rerr.Reason != "no such register" {
		t.Fatalf("RequestError = %+v", rerr)
	}
}

func TestClientWatch(t *testing.T) {
	c := newPipeClient(t, func(s *fakeServer, req Message) {
		s.send(Message{Type: Reply, Name: req.Name, Args: []string{StatusOK}})
		s.send(Message{Type: Inform, Name: "fpga", Args: []string{"loading"}})
		s.send(Message{Type: Inform, Name: "fpga", Args: []string{"ready"}})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w := c.Watch("fpga", func(m Message) bool {
		return len(m.Args) > 0 && m.Args[0] == "ready"
	})
	defer w.Stop()

	if _, err := c.Request(ctx, "progremote", "3000"); err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	msg, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if msg.Args[0] != "ready" {
		t.Fatalf("inform = %v, want #fpga ready", msg)
	}
}

func TestClientRequestTimeout(t *testing.T) {
	c := newPipeClient(t, func(s *fakeServer, req Message) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Request(ctx, "watchdog")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestClientServerHangup(t *testing.T) {
	c := newPipeClient(t, func(s *fakeServer, req Message) {
		_ = s.conn.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.Request(ctx, "watchdog")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("error = %v, want ErrClosed", err)
	}

	if _, err := c.Request(ctx, "watchdog"); !errors.Is(err, ErrClosed) {
		t.Fatalf("second request error = %v, want ErrClosed", err)
	}
}

func TestClientDropsLateReply(t *testing.T) {
	values := map[string]string{"a": "0x1", "b": "0x2"}
	c := newPipeClient(t, func(s *fakeServer, req Message) {
		if req.Args[0] == "a" {
			time.Sleep(100 * time.Millisecond)
		}
		s.send(Message{Type: Inform, Name: req.Name, Args: []string{req.Args[0]}})
		s.send(Message{Type: Reply, Name: req.Name, Args: []string{StatusOK, values[req.Args[0]]}})
	})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Request(short, "wordread", "a", "0"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first request error = %v, want deadline exceeded", err)
	}

	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	resp, err := c.Request(ctx, "wordread", "b", "0")
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if got := resp.Reply.Args[1]; got != "0x2" {
		t.Fatalf("wordread b = %s, want 0x2", got)
	}
	if len(resp.Informs) != 1 || resp.Informs[0].Args[0] != "b" {
		t.Fatalf("informs = %v, want only the one for b", resp.Informs)
	}
}
