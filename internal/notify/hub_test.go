package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_ProgressEvent(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)

	for h.ClientCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	h.Progress("r1", 3, 6, "organizing inbox")

	var ev Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != KindProgress || ev.RequestID != "r1" || ev.Iteration != 3 || ev.Percent != 6 {
		t.Errorf("event = %+v", ev)
	}
}

func TestHub_AskUserEvent(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	for h.ClientCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	h.AskUser("r1", "merge these folders?", []string{"yes", "no"}, 180*time.Second)

	var ev Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != KindAskUser || ev.Question == "" || ev.TimeoutMS != 180000 {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Options) != 2 {
		t.Errorf("options = %v", ev.Options)
	}
}

func TestHub_FanOutToMultipleClients(t *testing.T) {
	h := NewHub()
	c1 := dialHub(t, h)
	c2 := dialHub(t, h)
	for h.ClientCount() < 2 {
		time.Sleep(time.Millisecond)
	}

	h.Failure("r9", "token budget exhausted")

	for _, conn := range []*websocket.Conn{c1, c2} {
		var ev Event
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Kind != KindFailure || ev.Reason == "" {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	h := NewHub()
	// Must not panic or block.
	h.Progress("r1", 0, 0, "no one listening")
}
