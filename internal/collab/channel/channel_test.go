package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPipeOrder(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	for _, s := range []string{"one", "two", "three"} {
		if err := a.Send(ctx, []byte(s)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()
	_ = a.Send(ctx, []byte("queued"))
	_ = b.Close()

	if got, err := b.Receive(ctx); err != nil || string(got) != "queued" {
		t.Errorf("expected queued frame after close, got %q %v", got, err)
	}
	if _, err := b.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := a.Send(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on send, got %v", err)
	}
}

func TestPipeReceiveContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/denied":
			http.Error(w, "no", http.StatusUnauthorized)
			return
		case "/missing":
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/echo"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewWebSocketDialer(time.Second).Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(ctx, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != `{"type":"ping"}` {
		t.Errorf("expected echo, got %q", got)
	}

	_ = ch.Close()
	if err := ch.Send(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestWebSocketDialErrors(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()
	d := NewWebSocketDialer(time.Second)

	if _, err := d.Dial(ctx, base+"/denied", nil); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := d.Dial(ctx, base+"/missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
