// Package logging builds the logrus logger shared by the client and the
// responder.
//
// Diagnostics always go to stderr so that stdout carries only the command
// result, which keeps `client --json` output pipeable.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options selects the logger's level and format.
type Options struct {
	// Verbose lowers the level from Info to Debug.
	Verbose bool

	// JSON switches from the text formatter to the JSON formatter.
	JSON bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New creates a configured logger.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	return logger
}
