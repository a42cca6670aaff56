package main

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	StatePath  string // overrides [state].path
}

type SaveFlags struct {
	Name    string
	Version string
	PID     uint32
	Counter uint32
	Atomic  bool
	Mkdir   bool
}

type BumpFlags struct {
	Version string // used when no state file exists yet
}

type ServeFlags struct {
	Listen   string
	BasePath string
}
