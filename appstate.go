package appstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/loykin/appstate/internal/checkpoint"
	cfg "github.com/loykin/appstate/internal/config"
	"github.com/loykin/appstate/internal/history"
	hfactory "github.com/loykin/appstate/internal/history/factory"
	"github.com/loykin/appstate/internal/logger"
	"github.com/loykin/appstate/internal/metrics"
	iapi "github.com/loykin/appstate/internal/server"
	"github.com/loykin/appstate/internal/state"
	"github.com/loykin/appstate/internal/store"
	sfactory "github.com/loykin/appstate/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type PersistedState = state.PersistedState

type AppState = state.AppState

type Status = state.Status

type ErrorItem = state.ErrorItem

type Codec = state.Codec

type SaveOption = state.SaveOption

type IOError = state.IOError

type FormatError = state.FormatError

type ValidationError = state.ValidationError

type Config = cfg.FileConfig

type AppConfig = cfg.AppConfig

type Keeper = checkpoint.Keeper

type KeeperOption = checkpoint.Option

type HistorySink = history.Sink

const (
	StatusStarting = state.StatusStarting
	StatusRunning  = state.StatusRunning
	StatusIdle     = state.StatusIdle
	StatusWarning  = state.StatusWarning
	StatusStopping = state.StatusStopping
	StatusStopped  = state.StatusStopped
	StatusUnknown  = state.StatusUnknown
)

var (
	ErrIO      = state.ErrIO
	ErrFormat  = state.ErrFormat
	ErrInvalid = state.ErrInvalid
)

func Encode(w io.Writer, s PersistedState) error { return state.Encode(w, s) }

func Decode(r io.Reader) (PersistedState, error) { return state.Decode(r) }

func LoadState(path string) (PersistedState, error) { return state.LoadState(path) }

func LoadStateWith(c Codec, path string) (PersistedState, error) { return state.LoadStateWith(c, path) }

func SaveState(path string, s PersistedState, opts ...SaveOption) error {
	return state.SaveState(path, s, opts...)
}

func DeleteState(path string) error { return state.DeleteState(path) }

// DefaultPath returns <tmp>/.<appName>.state.
func DefaultPath(appName string) string { return state.DefaultPath(appName) }

func WithAtomic() SaveOption { return state.WithAtomic() }

func WithMkdir() SaveOption { return state.WithMkdir() }

func WithCodec(c Codec) SaveOption { return state.WithCodec(c) }

func LoadConfig(path string) (*Config, error) { return cfg.LoadConfig(path) }

func NewKeeper(path string, opts ...KeeperOption) *Keeper { return checkpoint.New(path, opts...) }

func NewAppState(c AppConfig, name, version string) *AppState {
	return checkpoint.NewAppState(c, name, version)
}

// Runtime bundles a Keeper with the collaborators built from a Config.
type Runtime struct {
	Config *Config
	Path   string
	Logger *slog.Logger
	Keeper *Keeper
	Store  store.Store
	Sinks  []HistorySink

	closers []io.Closer
}

// Setup builds the logger, optional store and history sink, metrics and the
// Keeper described by c. Close releases everything it opened.
func Setup(ctx context.Context, c *Config) (*Runtime, error) {
	lg, lc, err := logger.New(logger.Config{
		Level:      c.EffectiveLogLevel(),
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}, os.Stderr)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: c, Logger: lg, Path: state.ResolvePath(c.State, c.App.AppName)}
	rt.closers = append(rt.closers, lc)

	opts := []checkpoint.Option{
		checkpoint.WithLogger(lg),
		checkpoint.WithAtomic(c.State.Atomic),
		checkpoint.WithCodec(state.Codec{MaxFieldLen: c.State.MaxFieldLen}),
	}
	if c.Store.DSN != "" {
		st, err := sfactory.Open(ctx, c.Store.DSN)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.Store = st
		rt.closers = append(rt.closers, st)
		opts = append(opts, checkpoint.WithStore(st))
	}
	if c.History.DSN != "" {
		sink, err := hfactory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		rt.Sinks = append(rt.Sinks, sink)
		if cl, ok := sink.(io.Closer); ok {
			rt.closers = append(rt.closers, cl)
		}
		opts = append(opts, checkpoint.WithHistory(rt.Sinks...))
	}
	if c.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			lg.Warn("failed to register metrics", "error", err)
		}
	}
	rt.Keeper = checkpoint.New(rt.Path, opts...)
	lg.Debug("runtime ready", "path", rt.Path, "store", c.Store.DSN != "", "history", c.History.DSN != "")
	return rt, nil
}

// Router returns the HTTP router for this runtime's state file.
func (rt *Runtime) Router() *iapi.Router {
	opts := []iapi.RouterOption{iapi.WithCodec(state.Codec{MaxFieldLen: rt.Config.State.MaxFieldLen})}
	if rt.Store != nil {
		opts = append(opts, iapi.WithStore(rt.Store))
	}
	for _, s := range rt.Sinks {
		if hr, ok := s.(iapi.HistoryReader); ok {
			opts = append(opts, iapi.WithHistoryReader(hr))
			break
		}
	}
	if rt.Config.Metrics.Enabled {
		opts = append(opts, iapi.WithMetrics())
	}
	return iapi.NewRouter(rt.Path, rt.Config.Server.BasePath, opts...)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// NewHTTPServer starts an HTTP server exposing the read-only state API.
func NewHTTPServer(addr string, rt *Runtime) (*http.Server, error) {
	return iapi.NewServer(addr, rt.Router())
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
