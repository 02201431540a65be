// Package logging wires zerolog's global logger for the engine binary.
// Grounded on the bitunixbot backtest entrypoint's setup (parse a level
// flag/env, zerolog.SetGlobalLevel, swap log.Logger's writer) — this
// package just gives that same two-line setup a home so every cmd/
// entrypoint shares it instead of repeating it.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init parses levelName (debug|info|warn|error|...), defaulting to Info on
// an unrecognized value, sets it as zerolog's global level, and points the
// package-level logger at a human-readable console writer on stderr.
func Init(levelName string) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// Component returns a child logger tagged with a "component" field, so log
// lines from the sync engine, live executor, backtest engine etc. are
// distinguishable without every call site repeating the field.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
