package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-web/kestrel/internal/request"
	"github.com/kestrel-web/kestrel/internal/response"
	"github.com/kestrel-web/kestrel/internal/router"
)

func startServer(t *testing.T, cfg Config, r *router.Router) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	log := zerolog.Nop()
	cfg.Logger = &log
	srv := New(cfg, r)
	go srv.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return srv, ln.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, raw string) (*http.Response, string) {
	t.Helper()
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)

	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestServeBasic(t *testing.T) {
	r := router.New()
	r.GET("/hello", func(req *request.Request, res *response.Response) {
		res.JSON(response.StatusOK, map[string]string{"greeting": "hello"})
	})

	srv, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br, "GET /hello HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `"greeting":"hello"`)

	snap := srv.Metrics().Snapshot()
	assert.GreaterOrEqual(t, snap.RequestsTotal, int64(1))
}

func TestServeNotFound(t *testing.T) {
	r := router.New()
	r.GET("/known", func(req *request.Request, res *response.Response) {
		res.NoContent()
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br, "GET /nowhere HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Contains(t, body, "not found")
}

func TestServeKeepAlive(t *testing.T) {
	r := router.New()
	r.GET("/count/{n}", func(req *request.Request, res *response.Response) {
		res.Text(response.StatusOK, "n="+req.Param("n"))
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	// Test: several cycles on the same socket
	for i := 1; i <= 3; i++ {
		resp, body := roundTrip(t, conn, br,
			fmt.Sprintf("GET /count/%d HTTP/1.1\r\nHost: t\r\n\r\n", i))
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, fmt.Sprintf("n=%d", i), body)
	}

	// Test: Connection: close ends the session after the response
	resp, _ := roundTrip(t, conn, br,
		"GET /count/9 HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "close", resp.Header.Get("Connection"))

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestServePostEcho(t *testing.T) {
	r := router.New()
	r.POST("/echo", func(req *request.Request, res *response.Response) {
		raw, err := req.RawBody()
		if err != nil {
			res.Error(response.StatusInternalServerError, err.Error())
			return
		}
		res.Text(response.StatusOK, string(raw))
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br,
		"POST /echo HTTP/1.1\r\nHost: t\r\nContent-Length: 11\r\n\r\nhello world")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello world", body)
}

func TestServeUnreadBodyDiscarded(t *testing.T) {
	r := router.New()
	r.POST("/ignore", func(req *request.Request, res *response.Response) {
		// Never touches the body.
		res.NoContent()
	})
	r.GET("/after", func(req *request.Request, res *response.Response) {
		res.Text(response.StatusOK, "clean")
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	// Test: the unread body must not bleed into the next request's parse
	resp, _ := roundTrip(t, conn, br,
		"POST /ignore HTTP/1.1\r\nHost: t\r\nContent-Length: 7\r\n\r\npayload")
	assert.Equal(t, 204, resp.StatusCode)

	resp, body := roundTrip(t, conn, br, "GET /after HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "clean", body)
}

func TestServeMalformedRequest(t *testing.T) {
	r := router.New()
	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	resp, _ := roundTrip(t, conn, br, "GARBAGE\r\n\r\n")
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "close", resp.Header.Get("Connection"))

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestServeIdleTimeout(t *testing.T) {
	r := router.New()
	_, addr := startServer(t, Config{KeepAliveTimeout: 100 * time.Millisecond}, r)

	conn := dial(t, addr)
	defer conn.Close()

	// Test: an idle connection is closed silently, zero bytes written
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestServeConnectionCeiling(t *testing.T) {
	r := router.New()
	srv, addr := startServer(t, Config{MaxConnections: 1}, r)

	first := dial(t, addr)
	defer first.Close()

	require.Eventually(t, func() bool {
		return srv.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Test: the connection over the ceiling is closed without a byte
	second := dial(t, addr)
	defer second.Close()

	data, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Empty(t, data)

	snap := srv.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.ConnectionsRejected)
	assert.Equal(t, int64(1), snap.ActiveConnections)
}

func TestServeSSE(t *testing.T) {
	r := router.New()
	r.GET("/events", func(req *request.Request, res *response.Response) {
		for i := 0; i < 3; i++ {
			if err := res.SendEvent(response.Event{Name: "tick", Data: fmt.Sprintf("n=%d", i)}); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /events HTTP/1.1\r\nHost: t\r\n\r\n"))
	require.NoError(t, err)

	// The stream's end is the connection's end.
	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "content-type: text/event-stream")
	assert.Contains(t, out, ": stream opened")
	for i := 0; i < 3; i++ {
		assert.Contains(t, out, fmt.Sprintf("data: n=%d", i))
	}
}

func TestServeSSEIndependentStreams(t *testing.T) {
	release := make(chan struct{})

	r := router.New()
	r.GET("/events", func(req *request.Request, res *response.Response) {
		if err := res.StartSSE(); err != nil {
			return
		}
		<-release
		for i := 0; i < 3; i++ {
			if err := res.SendEvent(response.Event{Data: fmt.Sprintf("n=%d", i)}); err != nil {
				return
			}
		}
	})

	_, addr := startServer(t, Config{}, r)

	// Test: one subscriber vanishing must not disturb the other
	quitter := dial(t, addr)
	_, err := quitter.Write([]byte("GET /events HTTP/1.1\r\nHost: t\r\n\r\n"))
	require.NoError(t, err)

	stayer := dial(t, addr)
	defer stayer.Close()
	_, err = stayer.Write([]byte("GET /events HTTP/1.1\r\nHost: t\r\n\r\n"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	quitter.Close()
	close(release)

	raw, err := io.ReadAll(stayer)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Contains(t, string(raw), fmt.Sprintf("data: n=%d", i))
	}
}

func TestServeChunkedResponse(t *testing.T) {
	r := router.New()
	r.GET("/stream", func(req *request.Request, res *response.Response) {
		res.WriteChunk([]byte("part1"))
		res.WriteChunk([]byte("part2"))
		// Termination is the session's job when the handler forgets.
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br, "GET /stream HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "part1part2", body)
}

func TestServeHandledWithoutBody(t *testing.T) {
	r := router.New()
	r.GET("/headers-only", func(req *request.Request, res *response.Response) {
		res.Status(response.StatusAccepted)
		res.SetHeader("X-Job", "queued")
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	// Test: the session flushes a response the handler prepared but never wrote
	resp, body := roundTrip(t, conn, br, "GET /headers-only HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 202, resp.StatusCode)
	assert.Equal(t, "queued", resp.Header.Get("X-Job"))
	assert.Empty(t, body)
}

func TestServePanicKeepsConnection(t *testing.T) {
	r := router.New()
	r.GET("/boom", func(req *request.Request, res *response.Response) {
		panic("handler bug")
	})
	r.GET("/fine", func(req *request.Request, res *response.Response) {
		res.Text(response.StatusOK, "still here")
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br, "GET /boom HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 500, resp.StatusCode)
	assert.Contains(t, body, "internal server error")

	// Test: a 500 does not poison the session; keep-alive still applies
	resp, body = roundTrip(t, conn, br, "GET /fine HTTP/1.1\r\nHost: t\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "still here", body)
}

func TestShutdown(t *testing.T) {
	r := router.New()
	r.GET("/ok", func(req *request.Request, res *response.Response) {
		res.NoContent()
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	log := zerolog.Nop()
	srv := New(Config{Logger: &log}, r)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	conn := dial(t, ln.Addr().String())
	br := bufio.NewReader(conn)
	resp, _ := roundTrip(t, conn, br, "GET /ok HTTP/1.1\r\nHost: t\r\n\r\n")
	require.Equal(t, 204, resp.StatusCode)
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	// Test: the listener is gone
	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err)
}

func TestServeHTTP10Close(t *testing.T) {
	r := router.New()
	r.GET("/legacy", func(req *request.Request, res *response.Response) {
		res.Text(response.StatusOK, "old school")
	})

	_, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	// Test: HTTP/1.0 without keep-alive closes after one cycle
	resp, body := roundTrip(t, conn, br, "GET /legacy HTTP/1.0\r\nHost: t\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "old school", body)

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestMetricsSnapshot(t *testing.T) {
	r := router.New()
	r.GET("/ok", func(req *request.Request, res *response.Response) {
		res.NoContent()
	})

	srv, addr := startServer(t, Config{}, r)

	conn := dial(t, addr)
	defer conn.Close()
	br := bufio.NewReader(conn)

	roundTrip(t, conn, br, "GET /ok HTTP/1.1\r\nHost: t\r\n\r\n")
	roundTrip(t, conn, br, "GET /missing HTTP/1.1\r\nHost: t\r\n\r\n")

	snap := srv.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.RequestsTotal)
	assert.Equal(t, int64(1), snap.Errors4xx)
	assert.GreaterOrEqual(t, snap.ConnectionsAccepted, int64(1))

	if !strings.Contains(srv.Addr().String(), "127.0.0.1") {
		t.Fatalf("unexpected listener address %v", srv.Addr())
	}
}
