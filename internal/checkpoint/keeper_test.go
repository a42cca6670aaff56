package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/appstate/internal/config"
	"github.com/loykin/appstate/internal/history"
	"github.com/loykin/appstate/internal/metrics"
	"github.com/loykin/appstate/internal/state"
	"github.com/loykin/appstate/internal/store"
)

// MockStore implements store.Store for testing
type MockStore struct {
	records map[string]store.Record
	calls   []string
	err     error
}

func NewMockStore() *MockStore {
	return &MockStore{records: make(map[string]store.Record)}
}

func (ms *MockStore) EnsureSchema(_ context.Context) error {
	ms.calls = append(ms.calls, "EnsureSchema")
	return nil
}

func (ms *MockStore) Record(_ context.Context, rec store.Record) error {
	ms.calls = append(ms.calls, "Record:"+rec.Name)
	if ms.err != nil {
		return ms.err
	}
	ms.records[rec.Name] = rec
	return nil
}

func (ms *MockStore) GetByName(_ context.Context, name string) (store.Record, error) {
	rec, ok := ms.records[name]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (ms *MockStore) Delete(_ context.Context, name string) error {
	delete(ms.records, name)
	return nil
}

func (ms *MockStore) Close() error { return nil }

// MockHistorySink implements history.Sink for testing
type MockHistorySink struct {
	events []history.Event
	err    error
}

func (m *MockHistorySink) Send(_ context.Context, e history.Event) error {
	m.events = append(m.events, e)
	return m.err
}

type fakeSampler struct {
	u   metrics.Usage
	err error
}

func (f fakeSampler) Sample(_ context.Context, pid int32) (metrics.Usage, error) {
	u := f.u
	u.PID = pid
	return u, f.err
}

var fixed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRecord() *state.AppState {
	return &state.AppState{Name: "agent", Version: "1.0.0", PID: 4242, EventCounter: 6, Status: state.StatusRunning}
}

func TestUpdateBumpsAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	st := NewMockStore()
	sink := &MockHistorySink{}
	k := New(path, WithStore(st), WithHistory(sink), WithClock(func() time.Time { return fixed }))

	a := newRecord()
	require.NoError(t, k.Update(context.Background(), a))

	assert.Equal(t, uint32(7), a.EventCounter)
	assert.Equal(t, uint64(fixed.Unix()), a.LastUpdated)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "agent\n1.0.0\n4242\n7\n", string(b))

	rec := st.records["agent"]
	assert.Equal(t, uint32(7), rec.EventCounter)
	assert.Equal(t, "running", rec.Status)
	assert.Equal(t, fixed, rec.UpdatedAt)

	require.Len(t, sink.events, 1)
	assert.Equal(t, history.EventCheckpoint, sink.events[0].Type)
	assert.Empty(t, a.ErrorLog)
}

func TestUpdateFailureRecordsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "agent.state")
	var logs bytes.Buffer
	st := NewMockStore()
	sink := &MockHistorySink{}
	k := New(path, WithStore(st), WithHistory(sink), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	a := newRecord()
	err := k.Update(context.Background(), a)
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.Len(t, a.ErrorLog, 1)
	assert.Equal(t, state.ErrorTypeGeneral, a.ErrorLog[0].Type)
	assert.Equal(t, err.Error(), a.ErrorLog[0].Message)
	assert.Contains(t, logs.String(), "failed to save state")

	assert.Empty(t, st.calls, "failed saves must not be mirrored")
	require.Len(t, sink.events, 1)
	assert.Equal(t, history.EventError, sink.events[0].Type)
}

func TestUpdateValidationFailure(t *testing.T) {
	k := New(filepath.Join(t.TempDir(), "agent.state"))
	a := newRecord()
	a.Name = "bad\nname"
	err := k.Update(context.Background(), a)
	assert.ErrorIs(t, err, state.ErrInvalid)
	assert.Len(t, a.ErrorLog, 1)
}

func TestCollaboratorFailuresDoNotFailCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	st := NewMockStore()
	st.err = errors.New("db down")
	sink := &MockHistorySink{err: errors.New("sink down")}
	k := New(path, WithStore(st), WithHistory(sink))

	a := newRecord()
	require.NoError(t, k.Update(context.Background(), a))
	assert.Equal(t, []string{"Record:agent"}, st.calls)
	assert.Len(t, sink.events, 1)
	assert.Empty(t, a.ErrorLog)
}

func TestWindDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	sink := &MockHistorySink{}
	k := New(path, WithHistory(sink), WithAtomic(true))

	a := newRecord()
	require.NoError(t, k.WindDown(context.Background(), a))
	assert.Equal(t, "Terminated", a.Data)
	assert.Equal(t, state.StatusStopping, a.Status)
	require.Len(t, a.ErrorLog, 1)
	assert.Equal(t, WindDownMessage, a.ErrorLog[0].Message)
	assert.Equal(t, uint32(7), a.EventCounter)

	require.Len(t, sink.events, 2)
	assert.Equal(t, history.EventCheckpoint, sink.events[0].Type)
	assert.Equal(t, history.EventWindDown, sink.events[1].Type)
	assert.Equal(t, "stopping", sink.events[1].Record.Status)

	_, err := os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLogError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	k := New(path)
	a := newRecord()
	item := state.ErrorItem{Type: state.ErrorTypeGeneral, Message: "upstream unreachable"}
	require.NoError(t, k.LogError(context.Background(), a, item))
	assert.Equal(t, state.StatusWarning, a.Status)
	assert.Equal(t, []state.ErrorItem{item}, a.ErrorLog)
	assert.Equal(t, uint32(7), a.EventCounter)
}

func TestRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	require.NoError(t, state.SaveState(path, state.PersistedState{Name: "agent", Version: "2.0.0", PID: 1, EventCounter: 41}))
	sink := &MockHistorySink{}
	k := New(path, WithHistory(sink))

	a := newRecord()
	a.Data = "keep"
	require.NoError(t, k.Restore(context.Background(), a))
	assert.Equal(t, "2.0.0", a.Version)
	assert.Equal(t, uint32(1), a.PID)
	assert.Equal(t, uint32(41), a.EventCounter)
	assert.Equal(t, "keep", a.Data)
	require.Len(t, sink.events, 1)
	assert.Equal(t, history.EventRestore, sink.events[0].Type)
}

func TestRestoreFailureLeavesRecord(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]struct {
		content *string
		target  error
	}{
		"missing":   {nil, fs.ErrNotExist},
		"truncated": {ptr("agent\n1.0.0\n"), state.ErrFormat},
		"garbage":   {ptr("agent\n1.0.0\nabc def\n"), state.ErrFormat},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".state")
			if tc.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tc.content), 0o600))
			}
			k := New(path)
			a := newRecord()
			before := *a
			err := k.Restore(context.Background(), a)
			assert.ErrorIs(t, err, tc.target)
			assert.Equal(t, before, *a)
		})
	}
}

func ptr(s string) *string { return &s }

func TestUpdateRestoreCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	k := New(path, WithCodec(state.Codec{MaxFieldLen: 32}))
	a := newRecord()
	for i := 0; i < 3; i++ {
		require.NoError(t, k.Update(context.Background(), a))
	}
	b := &state.AppState{}
	require.NoError(t, k.Restore(context.Background(), b))
	assert.Equal(t, a.Persisted(), b.Persisted())
	assert.Equal(t, uint32(9), b.EventCounter)
}

func TestCheckUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.state")
	over := metrics.Usage{CPUPercent: 97, RSSBytes: 700 * 1024 * 1024}
	k := New(path, WithSampler(fakeSampler{u: over}))

	a := newRecord()
	a.Config = config.AppConfig{MaxRAMUsage: 512, MaxCPUUsage: 90}
	msgs, err := k.CheckUsage(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, state.StatusWarning, a.Status)
	require.Len(t, a.ErrorLog, 2)
	assert.Equal(t, state.ErrorTypeResource, a.ErrorLog[0].Type)
	assert.True(t, strings.HasPrefix(a.ErrorLog[0].Message, "memory"))
	assert.Equal(t, uint32(8), a.EventCounter)

	under := New(path, WithSampler(fakeSampler{u: metrics.Usage{CPUPercent: 1}}))
	b := newRecord()
	b.Config = a.Config
	msgs, err = under.CheckUsage(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, state.StatusRunning, b.Status)

	failing := New(path, WithSampler(fakeSampler{err: errors.New("no such process")}))
	_, err = failing.CheckUsage(context.Background(), newRecord())
	assert.Error(t, err)
}

func TestCheckUsageRejectsPIDBeyondInt32(t *testing.T) {
	over := metrics.Usage{CPUPercent: 97, RSSBytes: 700 * 1024 * 1024}
	k := New(filepath.Join(t.TempDir(), "agent.state"), WithSampler(fakeSampler{u: over}))

	a := newRecord()
	a.PID = 1 << 31
	a.Config = config.AppConfig{MaxRAMUsage: 512, MaxCPUUsage: 90}
	msgs, err := k.CheckUsage(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2147483648")
	assert.Empty(t, msgs)
	assert.Empty(t, a.ErrorLog)
	assert.Equal(t, uint32(6), a.EventCounter)
}

func TestNewAppState(t *testing.T) {
	cfg := config.AppConfig{AppName: "agent"}
	a := NewAppState(cfg, "agent", "1.0.0")
	assert.Equal(t, uint32(os.Getpid()), a.PID)
	assert.Equal(t, state.StatusStarting, a.Status)
	assert.NotZero(t, a.StartedAt)
	assert.Zero(t, a.EventCounter)
	assert.Equal(t, cfg, a.Config)
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, metrics.ResultOK, resultOf(nil))
	assert.Equal(t, metrics.ResultFormatError, resultOf(&state.FormatError{Line: 1}))
	assert.Equal(t, metrics.ResultInvalid, resultOf(&state.ValidationError{Field: "name"}))
	assert.Equal(t, metrics.ResultIOError, resultOf(&state.IOError{Op: "open", Err: fs.ErrPermission}))
	assert.Equal(t, metrics.ResultOtherFailure, resultOf(errors.New("x")))
}
