package main

import "time"

// Flag structs decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	Listen     string
	BackendDir string
	Packaged   bool
	NoAutorun  bool // serve the control surface without launching the backend
}

// ClientFlags describe how subcommands reach a running daemon.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
