package progress

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtdeploy/pkg/cli"
	"github.com/newtron-network/newtdeploy/pkg/model"
)

func snapshot(id, status, stage string, logs ...string) model.DeploymentStatus {
	return model.DeploymentStatus{
		DeploymentID:  id,
		Status:        status,
		CurrentStage:  stage,
		Logs:          logs,
		DeviceResults: map[string]model.DeviceResult{},
	}
}

func TestLogObserver_OnlyStageChanges(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	o := NewLogObserver(logger)
	o.Publish("d1", snapshot("d1", model.StatusRunning, "add:check"))
	o.Publish("d1", snapshot("d1", model.StatusRunning, "add:check", "line"))
	o.Publish("d1", snapshot("d1", model.StatusRunning, "add:commit"))
	o.Publish("d1", snapshot("d1", model.StatusCompleted, "finished"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("logged %d lines, want 3:\n%s", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["stage"] != "add:commit" || entry["deployment"] != "d1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestConsoleObserver_PrintsNewLines(t *testing.T) {
	cli.SetColor(false)
	defer cli.SetColor(true)

	var buf bytes.Buffer
	c := NewConsoleObserver(&buf)
	c.Publish("d1", snapshot("d1", model.StatusRunning, "pre", "a"))
	c.Publish("d1", snapshot("d1", model.StatusRunning, "pre", "a", "b", "c"))
	c.Publish("d1", snapshot("d1", model.StatusRunning, "pre", "a", "b", "c"))

	got := buf.String()
	for _, want := range []string{"a\n", "b\n", "c\n"} {
		if strings.Count(got, want) != 1 {
			t.Errorf("output should contain %q exactly once:\n%s", want, got)
		}
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func TestHub_BroadcastAndFilter(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "?deployment=b")
	waitClients(t, h, 2)

	h.Publish("a", snapshot("a", model.StatusRunning, "add:check"))
	h.Publish("b", snapshot("b", model.StatusCompleted, "finished"))

	if ev := readEvent(t, all); ev.DeploymentID != "a" || ev.Type != EventStatus {
		t.Errorf("first event to unfiltered client = %+v", ev)
	}
	if ev := readEvent(t, all); ev.DeploymentID != "b" {
		t.Errorf("second event = %+v", ev)
	}
	ev := readEvent(t, onlyB)
	if ev.DeploymentID != "b" || ev.Status.Status != model.StatusCompleted {
		t.Errorf("filtered client got %+v", ev)
	}
}

func TestHub_Disconnect(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)

	// Publishing with nobody connected is a no-op.
	h.Publish("a", snapshot("a", model.StatusRunning, "x"))
}

func TestChannel(t *testing.T) {
	if got := Channel("dep-1"); got != "newtdeploy:progress:dep-1" {
		t.Errorf("Channel = %s", got)
	}
}
