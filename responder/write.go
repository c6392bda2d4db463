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

package responder

import (
	"bufio"
	"io"
	"strconv"
)

const (
	ContentType = "text/html"
	StatusLine  = "200 OK"
)

// Write emits the CGI response for inv: headers, a blank line and the
// HTML page. Every line ends with a single "\n".
func Write(w io.Writer, inv *Invocation) error {
	bw := bufio.NewWriter(w)
	lines := []string{
		"Content-Type: " + ContentType,
		"Status: " + StatusLine,
		"",
		"<!DOCTYPE html>",
		"<html>",
		"<head><title>CGI Test</title></head>",
		"<body>",
		"<h1>CGI Test Successful</h1>",
		field("Request Method", inv.RequestMethod),
		field("Script Name", inv.ScriptName),
		field("Path Info", inv.PathInfo),
		field("Query String", inv.QueryString),
		// the parsed length, not the raw variable
		field("Content Length", strconv.FormatInt(inv.ContentLength, 10)),
		field("Server Protocol", inv.ServerProtocol),
	}
	for _, l := range lines {
		bw.WriteString(l)
		bw.WriteByte('\n')
	}
	// the body goes out unescaped
	if inv.HasBody() {
		bw.WriteString("<p>POST Data: ")
		bw.Write(inv.Body)
		bw.WriteString("</p>\n")
	}
	bw.WriteString("</body>\n")
	bw.WriteString("</html>\n")
	return bw.Flush()
}

func field(name, value string) string {
	return "<p>" + name + ": " + value + "</p>"
}

// Respond reads the invocation from env and body and writes the
// response to w.
func Respond(w io.Writer, env Env, body io.Reader) error {
	return Write(w, NewInvocation(env, body))
}
