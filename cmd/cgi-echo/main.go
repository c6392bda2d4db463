// Copyright 2024 Juca Crispim <juca@poraodojuca.net>

// This file is part of cgi-echo.

// cgi-echo is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// cgi-echo is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with cgi-echo. If not, see <http://www.gnu.org/licenses/>.

// cgi-echo is a CGI program that answers every request with an HTML
// page describing the request it got.
package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/jucacrispim/cgi-echo/responder"
)

const defaultLogLevel = "warn"

var logLevels = map[string]log.Level{
	"debug": log.DebugLevel,
	"info":  log.InfoLevel,
	"warn":  log.WarnLevel,
	"error": log.ErrorLevel,
}

// setupLog points logrus to stderr so nothing but the response reaches
// stdout. A bad level is reported and replaced by the default one.
func setupLog(stderr io.Writer, selected string) {
	log.SetOutput(stderr)
	if selected == "" {
		selected = defaultLogLevel
	}
	level, exists := logLevels[selected]
	if !exists {
		fmt.Fprintln(stderr, "[cgi-echo] Invalid logging level: "+selected)
		level = logLevels[defaultLogLevel]
	}
	log.SetLevel(level)
}

func run(stdout io.Writer, stderr io.Writer, env responder.Env, stdin io.Reader) int {
	lvl, _ := env("LOG_LEVEL")
	setupLog(stderr, lvl)

	if err := responder.Respond(stdout, env, stdin); err != nil {
		log.WithError(err).Error("writing response")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.LookupEnv, os.Stdin))
}
