package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autisense/autisense/internal/model"
	"github.com/autisense/autisense/internal/store"
	"github.com/autisense/autisense/internal/syncer"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingPusher struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPusher) Push(_ context.Context, req model.SyncRequest) (model.SyncResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return model.SyncResponse{OK: true, SessionID: req.Session.ID}, nil
}

func (p *countingPusher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestService(t *testing.T, cfg Config) (*Service, *store.Store, *countingPusher) {
	t.Helper()
	st, err := store.Open(store.MemoryPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	p := &countingPusher{}
	return New(cfg, st, p, nil, nil), st, p
}

func seedSession(t *testing.T, st *store.Store, id string) {
	t.Helper()
	_, err := st.CreateSession(context.Background(), model.NewSession{
		ID: id, UserID: "anon-1", ChildName: "Aarav", AgeMonths: 30, Language: "Hindi", Gender: "boy",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func getStatus(t *testing.T, h http.Handler) Status {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestPublishEventRingBuffer(t *testing.T) {
	s, _, _ := newTestService(t, Config{EventsBuffer: 2})

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestFlushEndpointDrainsQueue(t *testing.T) {
	s, st, p := newTestService(t, Config{})
	seedSession(t, st, "S1")
	h := s.Handler()

	before := getStatus(t, h)
	if before.QueueDepth != 1 || !before.Online {
		t.Fatalf("before flush: depth=%d online=%v, want 1/true", before.QueueDepth, before.Online)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/flush", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("flush code = %d: %s", rec.Code, rec.Body.String())
	}
	var rep syncer.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Synced != 1 {
		t.Fatalf("report synced = %d, want 1", rep.Synced)
	}
	if p.Calls() != 1 {
		t.Fatalf("push calls = %d, want 1", p.Calls())
	}

	after := getStatus(t, h)
	if after.QueueDepth != 0 {
		t.Errorf("after flush depth = %d, want 0", after.QueueDepth)
	}
	if after.FlushCount != 1 || after.LastReport == nil || after.LastReport.Synced != 1 {
		t.Errorf("after flush status = %+v", after)
	}
	if after.EventCount != 1 {
		t.Errorf("event count = %d, want 1", after.EventCount)
	}
}

func TestConnectivityEndpoint(t *testing.T) {
	s, st, p := newTestService(t, Config{})
	seedSession(t, st, "S1")
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connectivity?online=false", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("connectivity code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/flush", nil))
	var rep syncer.Report
	_ = json.Unmarshal(rec.Body.Bytes(), &rep)
	if rep.Reason != syncer.ReasonOffline {
		t.Fatalf("reason = %q, want offline", rep.Reason)
	}
	if p.Calls() != 0 {
		t.Fatalf("offline flush made %d calls", p.Calls())
	}

	st2 := getStatus(t, h)
	if st2.Online {
		t.Error("status reports online after being set offline")
	}
	if st2.FlushCount != 0 {
		t.Errorf("skipped flush counted: %d", st2.FlushCount)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connectivity?online=maybe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad online value code = %d, want 400", rec.Code)
	}
}

func TestStatusCountsExhaustedEntries(t *testing.T) {
	s, st, _ := newTestService(t, Config{MaxRetries: 2})
	seedSession(t, st, "S1")
	seedSession(t, st, "S2")

	ctx := context.Background()
	entries, err := st.ListPendingSyncEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := st.IncrementRetry(ctx, entries[0].ID); err != nil {
			t.Fatal(err)
		}
	}

	got := getStatus(t, s.Handler())
	if got.QueueDepth != 2 || got.Exhausted != 1 || got.MaxRetries != 2 {
		t.Fatalf("status = depth %d exhausted %d max %d, want 2/1/2", got.QueueDepth, got.Exhausted, got.MaxRetries)
	}
}

func TestStreamSendsStatusThenEvents(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", nil)
	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	resp, err := (&http.Client{Transport: tr}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	r := bufio.NewReader(resp.Body)
	if line := readLine(t, r); line != "event: status" {
		t.Fatalf("first line = %q, want status event", line)
	}
	_ = readLine(t, r) // data
	_ = readLine(t, r) // blank

	online := false
	s.publishEvent(Event{ID: 7, Type: EventConnectivity, Online: &online})
	if line := readLine(t, r); line != "event: connectivity" {
		t.Fatalf("line = %q, want connectivity event", line)
	}
	data := strings.TrimPrefix(readLine(t, r), "data: ")
	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID != 7 || ev.Online == nil || *ev.Online {
		t.Fatalf("event = %+v", ev)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func TestRunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	s, st, p := newTestService(t, Config{Addr: addr})
	seedSession(t, st, "S1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Initial flush happens because the agent starts online.
	deadline := time.Now().Add(2 * time.Second)
	for p.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Calls() != 1 {
		t.Fatalf("push calls = %d, want 1 from startup flush", p.Calls())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not stop")
	}
}
