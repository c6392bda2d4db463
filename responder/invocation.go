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

// Package responder echoes a CGI invocation back as a fixed HTML page.
package responder

import (
	"errors"
	"io"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	RequestMethod  = "REQUEST_METHOD"
	ScriptName     = "SCRIPT_NAME"
	PathInfo       = "PATH_INFO"
	QueryString    = "QUERY_STRING"
	ContentLength  = "CONTENT_LENGTH"
	ServerProtocol = "SERVER_PROTOCOL"
)

const (
	Unknown = "Unknown"
	None    = "None"
)

// Defaults is the value used for each meta variable the host did not set.
var Defaults = map[string]string{
	RequestMethod:  Unknown,
	ScriptName:     Unknown,
	PathInfo:       Unknown,
	QueryString:    None,
	ContentLength:  "0",
	ServerProtocol: Unknown,
}

var ErrBadContentLength = errors.New("[cgi-echo] Bad content length")

// Env looks up a single environment variable. os.LookupEnv is an Env.
type Env func(key string) (string, bool)

// MapEnv returns an Env backed by m.
func MapEnv(m map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Lookup returns the value of key or its default when key is absent.
// A variable set to the empty string is returned as is.
func Lookup(env Env, key string) string {
	if env != nil {
		if v, ok := env(key); ok {
			return v
		}
	}
	return Defaults[key]
}

// ParseContentLength parses a CONTENT_LENGTH value. Surrounding
// whitespace is ignored. Anything else that is not a non-negative
// integer yields 0 and an ErrBadContentLength. An empty value is 0 with
// no error.
func ParseContentLength(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrBadContentLength, "%q: %v", raw, err)
	}
	if n < 0 {
		return 0, pkgerrors.Wrapf(ErrBadContentLength, "%q is negative", raw)
	}
	return n, nil
}

// Invocation is what one CGI run received from its host.
type Invocation struct {
	RequestMethod  string
	ScriptName     string
	PathInfo       string
	QueryString    string
	ContentLength  int64
	ServerProtocol string
	// Body is nil unless the request is a POST with a positive length.
	Body []byte
}

// HasBody tells if the POST Data line must be written.
func (inv *Invocation) HasBody() bool {
	return inv.Body != nil
}

// NewInvocation builds the invocation from env, reading the body from
// body only for a POST with a positive content length. At most
// ContentLength bytes are read; a short stream keeps what arrived.
func NewInvocation(env Env, body io.Reader) *Invocation {
	inv := &Invocation{
		RequestMethod:  Lookup(env, RequestMethod),
		ScriptName:     Lookup(env, ScriptName),
		PathInfo:       Lookup(env, PathInfo),
		QueryString:    Lookup(env, QueryString),
		ServerProtocol: Lookup(env, ServerProtocol),
	}

	n, err := ParseContentLength(Lookup(env, ContentLength))
	if err != nil {
		log.WithError(err).Warn("using content length 0")
	}
	inv.ContentLength = n

	if inv.RequestMethod != "POST" || n <= 0 {
		return inv
	}
	inv.Body = readBody(body, n)
	return inv
}

func readBody(r io.Reader, n int64) []byte {
	if r == nil {
		log.WithField("expected", n).Debug("no body stream")
		return []byte{}
	}
	b, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		log.WithError(err).Warn("reading body")
	}
	if int64(len(b)) < n {
		log.WithFields(log.Fields{
			"expected": n,
			"read":     len(b),
		}).Debug("short body")
	}
	if b == nil {
		b = []byte{}
	}
	return b
}
