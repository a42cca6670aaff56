package appstate

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestFacadeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := PersistedState{Name: "agent", Version: "1.0.0", PID: 4242, EventCounter: 7}
	if err := Encode(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != "agent\n1.0.0\n4242\n7\n" {
		t.Fatalf("unexpected bytes %q", buf.String())
	}
	out, err := Decode(&buf)
	if err != nil || out != in {
		t.Fatalf("decode: %+v, %v", out, err)
	}

	path := filepath.Join(t.TempDir(), "agent.state")
	if err := SaveState(path, in, WithAtomic()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadState(path)
	if err != nil || got != in {
		t.Fatalf("load: %+v, %v", got, err)
	}
	if err := DeleteState(path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = LoadState(path)
	if !errors.Is(err, ErrIO) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected missing-file IO error, got %v", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T", err)
	}
}

func TestFacadeErrorsAreDistinct(t *testing.T) {
	_, err := Decode(strings.NewReader("agent\n1.0.0\nabc def\n"))
	var fe *FormatError
	if !errors.As(err, &fe) || !errors.Is(err, ErrFormat) || errors.Is(err, ErrIO) {
		t.Fatalf("expected format error only, got %v", err)
	}
	err = Encode(&bytes.Buffer{}, PersistedState{Name: "a\nb"})
	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetupFromConfig(t *testing.T) {
	dir := t.TempDir()
	c := &Config{}
	c.App.AppName = "agent"
	c.State.Path = filepath.Join(dir, "agent.state")
	c.State.MaxFieldLen = 255
	c.State.Atomic = true
	c.Store.DSN = "sqlite://" + filepath.Join(dir, "store.db")
	c.History.DSN = "sqlite://" + filepath.Join(dir, "history.db")
	c.Log.File = filepath.Join(dir, "agent.log")
	c.Metrics.Enabled = true

	ctx := context.Background()
	rt, err := Setup(ctx, c)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = rt.Close() }()
	if rt.Path != c.State.Path || rt.Keeper.Path() != c.State.Path {
		t.Fatalf("unexpected path %q", rt.Path)
	}
	if rt.Store == nil || len(rt.Sinks) != 1 {
		t.Fatalf("store/history not wired: %+v", rt)
	}

	a := NewAppState(c.App, "agent", "1.0.0")
	if err := rt.Keeper.Update(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err := rt.Store.GetByName(ctx, "agent")
	if err != nil || rec.EventCounter != 1 {
		t.Fatalf("store not mirrored: %+v, %v", rec, err)
	}

	h := rt.Router().Handler()
	for _, p := range []string{"/state", "/record?name=agent", "/history?name=agent", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: %d %s", p, w.Code, w.Body.String())
		}
	}
}

func TestSetupDefaultsPathAndRejectsBadStore(t *testing.T) {
	c := &Config{}
	c.App.AppName = "facade-test"
	rt, err := Setup(context.Background(), c)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if rt.Path != DefaultPath("facade-test") {
		t.Fatalf("path = %q", rt.Path)
	}
	_ = rt.Close()

	c.Store.DSN = "mongodb://nope"
	if _, err := Setup(context.Background(), c); err == nil {
		t.Fatalf("expected error for unsupported store DSN")
	}
}
