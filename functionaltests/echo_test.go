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

package functionaltests

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jucacrispim/cgi-echo/cgihost"
)

const hostConf = `CGI_DIR: cgi-bin
URL_PREFIX: /cgi-bin
`

var expectedHead = "Content-Type: text/html\nStatus: 200 OK\n\n"

// buildEcho compiles cgi-echo into dir/cgi-bin/test.cgi and writes the
// host config next to it.
func buildEcho(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "cgi-bin", "test.cgi")
	cmd := exec.Command("go", "build", "-o", bin, "../cmd/cgi-echo")
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Run())
	confPath := filepath.Join(dir, "host.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte(hostConf), 0o644))
	return bin, confPath
}

func startServer(t *testing.T, confPath string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conf, err := cgihost.LoadConfig(confPath)
	require.NoError(t, err)
	e, err := cgihost.NewEngine(conf)
	require.NoError(t, err)
	s := httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

func runDirect(t *testing.T, bin string, env []string, stdin string) string {
	t.Helper()
	cmd := exec.Command(bin)
	cmd.Env = env
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.Output()
	require.NoError(t, err)
	return string(out)
}

func TestEcho(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	bin, confPath := buildEcho(t)
	s := startServer(t, confPath)

	t.Run("no environment", func(t *testing.T) {
		out := runDirect(t, bin, []string{}, "ignored")
		require.True(t, strings.HasPrefix(out, expectedHead))
		assert.Contains(t, out, "<p>Request Method: Unknown</p>")
		assert.Contains(t, out, "<p>Script Name: Unknown</p>")
		assert.Contains(t, out, "<p>Path Info: Unknown</p>")
		assert.Contains(t, out, "<p>Query String: None</p>")
		assert.Contains(t, out, "<p>Content Length: 0</p>")
		assert.Contains(t, out, "<p>Server Protocol: Unknown</p>")
		assert.NotContains(t, out, "POST Data")
	})

	t.Run("post with zero length", func(t *testing.T) {
		env := []string{"REQUEST_METHOD=POST", "CONTENT_LENGTH=0"}
		out := runDirect(t, bin, env, "hello")
		assert.NotContains(t, out, "POST Data")
	})

	t.Run("bad content length", func(t *testing.T) {
		env := []string{"REQUEST_METHOD=POST", "CONTENT_LENGTH=five"}
		out := runDirect(t, bin, env, "hello")
		assert.Contains(t, out, "<p>Content Length: 0</p>")
		assert.NotContains(t, out, "POST Data")
	})

	t.Run("same input same output", func(t *testing.T) {
		env := []string{"REQUEST_METHOD=POST", "CONTENT_LENGTH=5", "QUERY_STRING=a=1"}
		assert.Equal(t, runDirect(t, bin, env, "hello"), runDirect(t, bin, env, "hello"))
	})

	var tests = []struct {
		name     string
		method   string
		url      string
		body     string
		contains []string
		excludes []string
	}{
		{
			"get",
			"GET",
			"/cgi-bin/test.cgi?a=1",
			"",
			[]string{
				"<p>Request Method: GET</p>",
				"<p>Script Name: /cgi-bin/test.cgi</p>",
				"<p>Query String: a=1</p>",
				"<p>Server Protocol: HTTP/1.1</p>",
			},
			[]string{"POST Data"},
		},
		{
			"get with path info",
			"GET",
			"/cgi-bin/test.cgi/some/where",
			"",
			[]string{"<p>Path Info: /some/where</p>", "<p>Query String: </p>"},
			nil,
		},
		{
			"post",
			"POST",
			"/cgi-bin/test.cgi",
			"hello",
			[]string{"<p>Content Length: 5</p>", "<p>POST Data: hello</p>"},
			nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var body io.Reader
			if test.body != "" {
				body = bytes.NewBufferString(test.body)
			}
			r, _ := http.NewRequest(test.method, s.URL+test.url, body)
			resp, err := s.Client().Do(r)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
			b, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			out := string(b)
			require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>\n"), out)
			for _, c := range test.contains {
				assert.Contains(t, out, c)
			}
			for _, e := range test.excludes {
				assert.NotContains(t, out, e)
			}
		})
	}
}
