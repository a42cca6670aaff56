package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/appstate"
)

// command carries what every subcommand needs: the loaded config and
// where to print results.
type command struct {
	global *GlobalFlags
	out    io.Writer
}

func (c command) config() (*appstate.Config, error) {
	cfg, err := appstate.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if c.global.StatePath != "" {
		cfg.State.Path = c.global.StatePath
	}
	return cfg, nil
}

func (c command) runtime(ctx context.Context) (*appstate.Runtime, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return appstate.Setup(ctx, cfg)
}

// Path prints the resolved state file location.
func (c command) Path() error {
	rt, err := c.runtime(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	_, _ = fmt.Fprintln(c.out, rt.Path)
	return nil
}

// Save writes the given fields verbatim.
func (c command) Save(f SaveFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	rt, err := appstate.Setup(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	name := f.Name
	if name == "" {
		name = cfg.App.AppName
	}
	opts := []appstate.SaveOption{appstate.WithCodec(appstate.Codec{MaxFieldLen: cfg.State.MaxFieldLen})}
	if f.Atomic || cfg.State.Atomic {
		opts = append(opts, appstate.WithAtomic())
	}
	if f.Mkdir {
		opts = append(opts, appstate.WithMkdir())
	}
	s := appstate.PersistedState{Name: name, Version: f.Version, PID: f.PID, EventCounter: f.Counter}
	if err := appstate.SaveState(rt.Path, s, opts...); err != nil {
		return err
	}
	rt.Logger.Info("state saved", "path", rt.Path, "name", name)
	return nil
}

// Load prints the state file as JSON.
func (c command) Load() error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	rt, err := appstate.Setup(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	s, err := appstate.LoadStateWith(appstate.Codec{MaxFieldLen: cfg.State.MaxFieldLen}, rt.Path)
	if err != nil {
		return err
	}
	printJSON(c.out, s)
	return nil
}

// restore loads the state file into a fresh record. A missing file yields a
// fresh record for the configured application.
func restore(ctx context.Context, rt *appstate.Runtime, version string) (*appstate.AppState, error) {
	a := appstate.NewAppState(rt.Config.App, rt.Config.App.AppName, version)
	err := rt.Keeper.Restore(ctx, a)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	// the checkpoint belongs to this process now
	a.PID = uint32(os.Getpid())
	a.Status = appstate.StatusRunning
	return a, nil
}

// Bump restores the state, advances the event counter and saves it.
func (c command) Bump(f BumpFlags) error {
	ctx := context.Background()
	rt, err := c.runtime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	a, err := restore(ctx, rt, f.Version)
	if err != nil {
		return err
	}
	if err := rt.Keeper.Update(ctx, a); err != nil {
		return err
	}
	printJSON(c.out, a.Persisted())
	return nil
}

// WindDown restores the state and records a final stopping checkpoint.
func (c command) WindDown(f BumpFlags) error {
	ctx := context.Background()
	rt, err := c.runtime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	a, err := restore(ctx, rt, f.Version)
	if err != nil {
		return err
	}
	if err := rt.Keeper.WindDown(ctx, a); err != nil {
		return err
	}
	printJSON(c.out, a.Persisted())
	return nil
}

// Delete removes the state file.
func (c command) Delete() error {
	rt, err := c.runtime(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return appstate.DeleteState(rt.Path)
}

// Serve exposes the state file over HTTP until SIGINT or SIGTERM.
func (c command) Serve(f ServeFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.BasePath != "" {
		cfg.Server.BasePath = f.BasePath
	}
	rt, err := appstate.Setup(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	server, err := appstate.NewHTTPServer(cfg.Server.Listen, rt)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	rt.Logger.Info("serving state", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "path", rt.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	rt.Logger.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
