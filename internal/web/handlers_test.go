package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/StepSeq/internal/hw/button"
	"github.com/cjeanneret/StepSeq/internal/journal"
	"github.com/cjeanneret/StepSeq/internal/logic/motion"
	"github.com/cjeanneret/StepSeq/internal/logic/moves"
)

// ---------- Fakes ----------

type fixedStatus motion.Status

func (s fixedStatus) Status() motion.Status { return motion.Status(s) }

type fakeHistory struct {
	entries []journal.Entry
	err     error
	asked   int
}

func (f *fakeHistory) Recent(n int) ([]journal.Entry, error) {
	f.asked = n
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.entries) {
		return f.entries[:n], nil
	}
	return f.entries, nil
}

type fakePresser struct {
	pressed []string
	err     error
}

func (f *fakePresser) Press(name string) error {
	if f.err != nil {
		return f.err
	}
	f.pressed = append(f.pressed, name)
	return nil
}

func newTestHandlers() *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	status := fixedStatus{Phase: motion.Running, Move: moves.Move2, MoveSteps: 272, RemainingSteps: 100, Running: true}
	return NewHandlers(status, NewStatusBroadcaster(), staticFS)
}

func serve(h *Handlers, method, target string) *httptest.ResponseRecorder {
	s := &Server{handlers: h}
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

// ---------- HandleStatus ----------

func TestHandleStatus(t *testing.T) {
	w := serve(newTestHandlers(), http.MethodGet, "/status")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["phase"] != "RUNNING" {
		t.Errorf("phase = %v, want RUNNING", raw["phase"])
	}
	if raw["move"] != float64(2) || raw["remaining_steps"] != float64(100) {
		t.Errorf("body = %v", raw)
	}
}

func TestHandleStatus_WrongMethod(t *testing.T) {
	w := serve(newTestHandlers(), http.MethodPost, "/status")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// ---------- HandleHistory ----------

func TestHandleHistory(t *testing.T) {
	h := newTestHandlers()
	hist := &fakeHistory{entries: []journal.Entry{
		{Seq: 3, Transition: motion.Transition{Event: motion.EventHome}},
		{Seq: 2, Transition: motion.Transition{Event: motion.EventReturn}},
		{Seq: 1, Transition: motion.Transition{Event: motion.EventStop}},
	}}
	h.History = hist

	w := serve(h, http.MethodGet, "/history?n=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []journal.Entry
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.asked != 2 || len(got) != 2 || got[0].Event != motion.EventHome {
		t.Errorf("asked=%d got=%+v", hist.asked, got)
	}

	serve(h, http.MethodGet, "/history")
	if hist.asked != defaultHistory {
		t.Errorf("default n = %d, want %d", hist.asked, defaultHistory)
	}
}

func TestHandleHistory_Errors(t *testing.T) {
	cases := []struct {
		name    string
		history HistorySource
		target  string
		want    int
	}{
		{"disabled", nil, "/history", http.StatusNotFound},
		{"bad n", &fakeHistory{}, "/history?n=abc", http.StatusBadRequest},
		{"zero n", &fakeHistory{}, "/history?n=0", http.StatusBadRequest},
		{"huge n", &fakeHistory{}, "/history?n=5000", http.StatusBadRequest},
		{"store error", &fakeHistory{err: errors.New("disk gone")}, "/history", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers()
			h.History = tc.history
			if w := serve(h, http.MethodGet, tc.target); w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// ---------- HandleMetrics ----------

func TestHandleMetrics(t *testing.T) {
	h := newTestHandlers()
	if w := serve(h, http.MethodGet, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("without metrics: status = %d, want 404", w.Code)
	}
	h.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "stepseq_ticks_total 7")
	})
	w := serve(h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "stepseq_ticks_total 7") {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

// ---------- HandlePress ----------

func TestHandlePress(t *testing.T) {
	h := newTestHandlers()
	p := &fakePresser{}
	h.Buttons = p

	w := serve(h, http.MethodPost, "/buttons/start/press")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(p.pressed) != 1 || p.pressed[0] != "start" {
		t.Errorf("pressed = %v", p.pressed)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["button"] != "start" {
		t.Errorf("response = %v", resp)
	}
}

func TestHandlePress_Errors(t *testing.T) {
	cases := []struct {
		name    string
		presser Presser
		want    int
	}{
		{"no mock gpio", nil, http.StatusNotFound},
		{"unknown", &fakePresser{err: fmt.Errorf("%w: %q", button.ErrUnknownButton, "x")}, http.StatusNotFound},
		{"busy", &fakePresser{err: fmt.Errorf("%w: %q", button.ErrBusy, "start")}, http.StatusConflict},
		{"other", &fakePresser{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers()
			h.Buttons = tc.presser
			if w := serve(h, http.MethodPost, "/buttons/start/press"); w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestHandlePress_GetNotAllowed(t *testing.T) {
	h := newTestHandlers()
	h.Buttons = &fakePresser{}
	if w := serve(h, http.MethodGet, "/buttons/start/press"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	w := serve(newTestHandlers(), http.MethodGet, "/")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_EmbeddedPage(t *testing.T) {
	s := NewServer(":0", fixedStatus{}, NewStatusBroadcaster())
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "StepSeq") {
		t.Errorf("status = %d, embedded page missing", w.Code)
	}
}

// ---------- HandleStatusStream ----------

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers()
	srv := httptest.NewServer((&Server{handlers: h}).Mux())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	readData := func() string {
		t.Helper()
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	if snapshot := readData(); !strings.Contains(snapshot, `"phase":"RUNNING"`) {
		t.Errorf("initial snapshot = %s", snapshot)
	}

	for h.Broadcaster.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	h.Broadcaster.Transition(motion.Transition{From: motion.Running, To: motion.Stopped, Event: motion.EventFinish})

	var evt StatusEvent
	if err := json.Unmarshal([]byte(readData()), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Transition == nil || evt.Transition.Event != motion.EventFinish {
		t.Errorf("event = %+v", evt)
	}
}
