/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
)

// Setup configures zerolog for the process.
func Setup(environment, level string) zerolog.Logger {
	return SetupWithWriter(environment, level, os.Stdout)
}

// SetupWithWriter configures zerolog to write to out. Development gets the
// human readable console format, everything else gets JSON lines.
func SetupWithWriter(environment, level string, out io.Writer) zerolog.Logger {
	return build(environment, level, sink(environment, out))
}

// SetupWithBuffer is SetupWithWriter plus a copy of every entry kept in buf
// for the log API.
func SetupWithBuffer(environment, level string, out io.Writer, buf *logbuffer.Buffer) zerolog.Logger {
	return build(environment, level, logbuffer.NewWriter(buf, sink(environment, out)))
}

func isDev(environment string) bool {
	return strings.EqualFold(environment, "development")
}

func sink(environment string, out io.Writer) io.Writer {
	if isDev(environment) {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return out
}

func build(environment, level string, writer io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl := zerolog.InfoLevel
	if isDev(environment) {
		lvl = zerolog.DebugLevel
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = parsed
		}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
	log.Logger = logger
	return logger
}
