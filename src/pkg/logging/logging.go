// Package logging wires go.uber.org/zap the way src/app did: development
// logger with full stack traces when running locally, production (sampled,
// JSON) logger otherwise.
package logging

import "go.uber.org/zap"

// Logger is the sugared logging interface every component takes, so tests can
// substitute zap.NewNop().Sugar() without touching call sites.
type Logger = *zap.SugaredLogger

// New builds a Logger for the named environment ("dev" or anything else,
// which is treated as production).
func New(environment string) (Logger, error) {
	var (
		l   *zap.Logger
		err error
	)

	if environment == "dev" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	return l.Sugar(), nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() Logger {
	return zap.NewNop().Sugar()
}
