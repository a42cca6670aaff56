package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/appstate"
)

// embedded_checkpoint: restore a state file, checkpoint a few times and wind down.
// Run it twice to see the event counter carry over between runs.
func main() {
	dir := os.Getenv("APPSTATE_DEMO_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "appstate-demo")
	}
	_ = os.MkdirAll(dir, 0o750)

	cfg, err := appstate.LoadConfig("")
	if err != nil {
		panic(err)
	}
	cfg.App.AppName = "embedded-demo"
	cfg.State.Path = filepath.Join(dir, "demo.state")
	cfg.State.Atomic = true
	cfg.History.DSN = "sqlite://" + filepath.Join(dir, "history.db")

	ctx := context.Background()
	rt, err := appstate.Setup(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = rt.Close() }()

	a := appstate.NewAppState(cfg.App, cfg.App.AppName, "1.0.0")
	if err := rt.Keeper.Restore(ctx, a); err != nil {
		fmt.Println("starting fresh:", err)
	}
	a.Status = appstate.StatusRunning

	for i := 0; i < 3; i++ {
		if err := rt.Keeper.Update(ctx, a); err != nil {
			fmt.Println("checkpoint failed:", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := rt.Keeper.WindDown(ctx, a); err != nil {
		fmt.Println("wind down failed:", err)
	}

	b, _ := os.ReadFile(rt.Path)
	fmt.Println("Embedded checkpoint example")
	fmt.Println("  State file:", rt.Path)
	fmt.Printf("  Contents:\n%s", b)
	fmt.Println("  Event counter:", a.EventCounter)
}
