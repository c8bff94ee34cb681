// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging provides the application-wide logger. Callers should use
// the helper functions below rather than constructing their own loggers so
// debug toggling applies uniformly.
package logging

import (
	"fmt"
	"os"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger.
var L = clog.New(os.Stderr)

// SetLevel applies a named level ("debug", "info", "warn", "error").
// Unknown names fall back to info.
func SetLevel(name string) {
	switch name {
	case "debug":
		L.SetLevel(clog.DebugLevel)
	case "warn":
		L.SetLevel(clog.WarnLevel)
	case "error":
		L.SetLevel(clog.ErrorLevel)
	default:
		L.SetLevel(clog.InfoLevel)
	}
}

// SetDebug enables or disables debug-level output.
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
	} else {
		L.SetLevel(clog.InfoLevel)
	}
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}
