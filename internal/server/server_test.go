package server_test

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/segmentdb/segment/internal/protocol"
	"github.com/segmentdb/segment/internal/server"
	shutdownpkg "github.com/segmentdb/segment/internal/shutdown"
	"github.com/segmentdb/segment/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	n := shutdownpkg.New()
	db := store.New(0, nil, n, testLogger())
	srv := server.New(ln, db, n, testLogger(), 4096)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	return ln.Addr().String(), func() {
		srv.Shutdown()
		if err := <-serveErr; err != nil {
			t.Errorf("Serve returned error after Shutdown: %v", err)
		}
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return nc
}

func TestServerRespondsToPing(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	nc := dial(t, addr)
	defer nc.Close()

	req, err := protocol.Write(nil, protocol.Array([]protocol.Frame{protocol.String([]byte("ping"))}))
	if err != nil {
		t.Fatalf("Write request: %v", err)
	}
	if _, err := nc.Write(req); err != nil {
		t.Fatalf("send ping: %v", err)
	}

	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := nc.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	got, _, err := protocol.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if got.Tag != protocol.TagString || string(got.Str) != "PONG" {
		t.Fatalf("reply = %+v, want String(PONG)", got)
	}
}

func TestServerCreateSetGetRoundTrip(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	nc := dial(t, addr)
	defer nc.Close()
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))

	send := func(f protocol.Frame) protocol.Frame {
		t.Helper()
		out, err := protocol.Write(nil, f)
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if _, err := nc.Write(out); err != nil {
			t.Fatalf("write: %v", err)
		}
		buf := make([]byte, 512)
		n, err := nc.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		reply, _, err := protocol.Parse(buf[:n])
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return reply
	}

	create := send(protocol.Array([]protocol.Frame{
		protocol.String([]byte("create")),
		protocol.String([]byte("widgets")),
	}))
	if create.Tag != protocol.TagBoolean || !create.Bool {
		t.Fatalf("create = %+v", create)
	}

	set := send(protocol.Array([]protocol.Frame{
		protocol.String([]byte("set")),
		protocol.String([]byte("widgets")),
		protocol.String([]byte("k")),
		protocol.String([]byte("v")),
	}))
	if set.Tag != protocol.TagBoolean || !set.Bool {
		t.Fatalf("set = %+v", set)
	}

	get := send(protocol.Array([]protocol.Frame{
		protocol.String([]byte("get")),
		protocol.String([]byte("widgets")),
		protocol.String([]byte("k")),
	}))
	if get.Tag != protocol.TagString || string(get.Str) != "v" {
		t.Fatalf("get = %+v", get)
	}
}

func TestServerInvalidCommandYieldsErrorFrame(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	nc := dial(t, addr)
	defer nc.Close()
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))

	req, err := protocol.Write(nil, protocol.Array([]protocol.Frame{protocol.String([]byte("bogus"))}))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := nc.Write(req); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, 256)
	n, err := nc.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, _, err := protocol.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Tag != protocol.TagError {
		t.Fatalf("reply = %+v, want Error", got)
	}
}

func TestServerShutdownClosesListenerAndDrainsConnections(t *testing.T) {
	addr, stop := startTestServer(t)

	nc := dial(t, addr)
	defer nc.Close()

	// Leave the connection idle with a read pending, so Shutdown must force
	// the in-flight handler closed rather than waiting on client traffic.
	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := nc.Read(buf)
		readDone <- err
	}()

	stop()

	select {
	case err := <-readDone:
		if err == nil {
			t.Fatalf("read succeeded, want the connection closed by shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not drained within 2s of Shutdown returning")
	}
}
