package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSave("a", ResultOK)
	IncSave("a", ResultIOError)
	IncLoad("a", ResultFormatError)
	ObserveSaveDuration("a", 0.002)
	SetEventCounter("a", 7)
	SetUsage("a", Usage{PID: 1, CPUPercent: 12.5, RSSBytes: 4096})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"appstate_state_saves_total":           false,
		"appstate_state_loads_total":           false,
		"appstate_state_save_duration_seconds": false,
		"appstate_state_event_counter":         false,
		"appstate_process_cpu_percent":         false,
		"appstate_process_memory_rss_bytes":    false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
		if n == "appstate_state_event_counter" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 7 {
				t.Fatalf("event counter gauge = %v, want 7", v)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncSave("x", ResultOK)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "appstate_state_saves_total") {
		t.Fatalf("metrics output missing saves_total")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncSave("c", ResultOK)
			IncLoad("c", ResultOK)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncSave("test", ResultOK)
	IncLoad("test", ResultOK)
	ObserveSaveDuration("test", 1.0)
	SetEventCounter("test", 1)
	SetUsage("test", Usage{})
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error  { return errors.New("test registration error") }
func (errorRegisterer) MustRegister(...prometheus.Collector) {}
func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer{})
	if err == nil || err.Error() != "test registration error" {
		t.Fatalf("expected registerer error, got %v", err)
	}
	if regOK.Load() {
		t.Fatalf("failed registration must not mark metrics as registered")
	}
}

func TestProcSamplerSelf(t *testing.T) {
	u, err := ProcSampler{}.Sample(context.Background(), int32(os.Getpid()))
	if err != nil {
		t.Skipf("process sampling unavailable: %v", err)
	}
	if u.PID != int32(os.Getpid()) || u.RSSBytes == 0 {
		t.Fatalf("unexpected sample: %+v", u)
	}
}

func TestUsageExceeds(t *testing.T) {
	u := Usage{CPUPercent: 90, RSSBytes: 300 * 1024 * 1024}
	if got := u.Exceeds(0, 0); len(got) != 0 {
		t.Fatalf("zero limits should be ignored: %v", got)
	}
	if got := u.Exceeds(512, 95); len(got) != 0 {
		t.Fatalf("usage under limits: %v", got)
	}
	got := u.Exceeds(256, 50)
	if len(got) != 2 || !strings.Contains(got[0], "memory 300MB") || !strings.Contains(got[1], "cpu 90.0%") {
		t.Fatalf("unexpected exceed report: %v", got)
	}
}
