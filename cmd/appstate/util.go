package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/appstate"
)

// Exit codes returned by main.
const (
	exitOK      = 0
	exitGeneral = 1
	exitFormat  = 2
	exitIO      = 3
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, appstate.ErrFormat):
		return exitFormat
	case errors.Is(err, appstate.ErrIO):
		return exitIO
	default:
		return exitGeneral
	}
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
