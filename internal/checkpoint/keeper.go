package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/loykin/appstate/internal/config"
	"github.com/loykin/appstate/internal/history"
	"github.com/loykin/appstate/internal/logger"
	"github.com/loykin/appstate/internal/metrics"
	"github.com/loykin/appstate/internal/state"
	"github.com/loykin/appstate/internal/store"
)

// WindDownMessage is appended to the error log by WindDown.
const WindDownMessage = "Wind down requested - check logs"

// Keeper checkpoints an AppState to a state file and mirrors successful
// checkpoints to an optional store and history sinks.
//
// The AppState passed to each method is owned by the caller; Keeper only
// serializes file access for its path.
type Keeper struct {
	mu      sync.Mutex
	path    string
	codec   state.Codec
	atomic  bool
	st      store.Store
	sinks   []history.Sink
	log     *slog.Logger
	now     func() time.Time
	sampler metrics.Sampler
}

// Option configures a Keeper.
type Option func(*Keeper)

func WithStore(s store.Store) Option { return func(k *Keeper) { k.st = s } }

// WithHistory configures history sinks. Passing none clears the list.
func WithHistory(sinks ...history.Sink) Option {
	return func(k *Keeper) { k.sinks = append([]history.Sink(nil), sinks...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.log = l
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(k *Keeper) { k.now = now } }

func WithSampler(s metrics.Sampler) Option { return func(k *Keeper) { k.sampler = s } }

func WithCodec(c state.Codec) Option { return func(k *Keeper) { k.codec = c } }

// WithAtomic makes every save go through a temp file and rename.
func WithAtomic(on bool) Option { return func(k *Keeper) { k.atomic = on } }

// New returns a Keeper writing to path.
func New(path string, opts ...Option) *Keeper {
	k := &Keeper{
		path:    path,
		log:     logger.Discard(),
		now:     time.Now,
		sampler: metrics.ProcSampler{},
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Path returns the state file location.
func (k *Keeper) Path() string { return k.path }

// NewAppState returns a fresh record for the current process.
func NewAppState(cfg config.AppConfig, name, version string) *state.AppState {
	now := uint64(time.Now().Unix())
	return &state.AppState{
		Name:        name,
		Version:     version,
		Status:      state.StatusStarting,
		PID:         uint32(os.Getpid()),
		StartedAt:   now,
		LastUpdated: now,
		Config:      cfg,
	}
}

// Update stamps a, bumps its event counter and saves it. A failed save is
// appended to a.ErrorLog and returned.
func (k *Keeper) Update(ctx context.Context, a *state.AppState) error {
	now := k.now()
	a.LastUpdated = uint64(now.Unix())
	a.EventCounter++

	k.mu.Lock()
	start := time.Now()
	err := state.SaveState(k.path, a.Persisted(), k.saveOpts()...)
	elapsed := time.Since(start)
	k.mu.Unlock()

	metrics.IncSave(a.Name, resultOf(err))
	metrics.ObserveSaveDuration(a.Name, elapsed.Seconds())
	if err != nil {
		k.log.Error("failed to save state", "path", k.path, "name", a.Name, "error", err)
		a.ErrorLog = append(a.ErrorLog, state.ErrorItem{Type: state.ErrorTypeGeneral, Message: err.Error()})
		k.emit(ctx, history.EventError, a, now, err.Error())
		return err
	}
	metrics.SetEventCounter(a.Name, a.EventCounter)
	k.log.Debug("state updated", "path", k.path, "name", a.Name, "event_counter", a.EventCounter)

	rec := toRecord(a, now)
	if k.st != nil {
		if serr := k.st.Record(ctx, rec); serr != nil {
			k.log.Warn("failed to mirror checkpoint", "name", a.Name, "error", serr)
		}
	}
	k.send(ctx, history.Event{Type: history.EventCheckpoint, OccurredAt: now.UTC(), Record: rec})
	return nil
}

// WindDown marks a as terminating and saves it.
func (k *Keeper) WindDown(ctx context.Context, a *state.AppState) error {
	a.Data = "Terminated"
	a.Status = state.StatusStopping
	a.ErrorLog = append(a.ErrorLog, state.ErrorItem{Type: state.ErrorTypeGeneral, Message: WindDownMessage})
	if err := k.Update(ctx, a); err != nil {
		return err
	}
	k.emit(ctx, history.EventWindDown, a, k.now(), WindDownMessage)
	return nil
}

// LogError records item, downgrades a to warning and saves it.
func (k *Keeper) LogError(ctx context.Context, a *state.AppState, item state.ErrorItem) error {
	k.log.Error(item.Message, "name", a.Name, "type", item.Type)
	a.ErrorLog = append(a.ErrorLog, item)
	a.Status = state.StatusWarning
	return k.Update(ctx, a)
}

// Restore loads the state file into a. On any error a is left unchanged.
func (k *Keeper) Restore(ctx context.Context, a *state.AppState) error {
	k.mu.Lock()
	p, err := state.LoadStateWith(k.codec, k.path)
	k.mu.Unlock()

	metrics.IncLoad(a.Name, resultOf(err))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			k.log.Debug("no state file", "path", k.path)
		} else {
			k.log.Error("failed to load state", "path", k.path, "error", err)
		}
		return err
	}
	a.Apply(p)
	metrics.SetEventCounter(a.Name, a.EventCounter)
	k.log.Info("state restored", "path", k.path, "name", a.Name, "event_counter", a.EventCounter)
	k.emit(ctx, history.EventRestore, a, k.now(), "")
	return nil
}

// CheckUsage samples a.PID against a.Config limits. Each breach is logged
// through LogError. It returns the breach messages.
func (k *Keeper) CheckUsage(ctx context.Context, a *state.AppState) ([]string, error) {
	if a.PID > math.MaxInt32 {
		return nil, fmt.Errorf("pid %d out of range for process sampling", a.PID)
	}
	u, err := k.sampler.Sample(ctx, int32(a.PID))
	if err != nil {
		return nil, err
	}
	metrics.SetUsage(a.Name, u)
	over := u.Exceeds(a.Config.MaxRAMUsage, a.Config.MaxCPUUsage)
	for _, msg := range over {
		if err := k.LogError(ctx, a, state.ErrorItem{Type: state.ErrorTypeResource, Message: msg}); err != nil {
			return over, err
		}
	}
	return over, nil
}

func (k *Keeper) saveOpts() []state.SaveOption {
	opts := []state.SaveOption{state.WithCodec(k.codec)}
	if k.atomic {
		opts = append(opts, state.WithAtomic())
	}
	return opts
}

func (k *Keeper) emit(ctx context.Context, typ history.EventType, a *state.AppState, at time.Time, detail string) {
	k.send(ctx, history.Event{Type: typ, OccurredAt: at.UTC(), Record: toRecord(a, at), Detail: detail})
}

func (k *Keeper) send(ctx context.Context, e history.Event) {
	for _, s := range k.sinks {
		if err := s.Send(ctx, e); err != nil {
			k.log.Warn("history sink failed", "event", e.Type, "error", err)
		}
	}
}

func toRecord(a *state.AppState, at time.Time) store.Record {
	return store.Record{
		Name:         a.Name,
		Version:      a.Version,
		PID:          a.PID,
		EventCounter: a.EventCounter,
		Status:       string(a.Status),
		UpdatedAt:    at.UTC(),
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, state.ErrFormat):
		return metrics.ResultFormatError
	case errors.Is(err, state.ErrInvalid):
		return metrics.ResultInvalid
	case errors.Is(err, state.ErrIO):
		return metrics.ResultIOError
	default:
		return metrics.ResultOtherFailure
	}
}
