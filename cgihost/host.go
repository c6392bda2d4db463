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

// Package cgihost runs CGI programs for http requests. It is what the
// functional tests put in front of cgi-echo.
package cgihost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var INTERNAL_SERVER_ERROR_MSG = "Internal server error"

var MissingConfigError = errors.New("[cgihost] No config")
var NoCgiDirError = errors.New("[cgihost] CGI_DIR missing from config")
var BadCgiDirError = errors.New("[cgihost] CGI_DIR wrong config value")
var BadUrlPrefixError = errors.New("[cgihost] URL_PREFIX wrong config value")
var BadCgiTimeoutError = errors.New("[cgihost] CGI_TIMEOUT wrong config value")
var ConfusionError = errors.New("[cgihost] I'm confused")
var InvalidCgiResponse = errors.New("[cgihost] Invalid cgi response")

var allowedMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
	http.MethodPost: true,
}

func Init(domain string, conf *map[string]any) error {
	if conf == nil || *conf == nil {
		return MissingConfigError
	}
	c := (*conf)

	d, exists := c["CGI_DIR"]
	if !exists {
		return NoCgiDirError
	}

	cgiDir, ok := d.(string)
	if !ok {
		return BadCgiDirError
	}

	if p, exists := c["URL_PREFIX"]; exists {
		if _, ok := p.(string); !ok {
			return BadUrlPrefixError
		}
	}

	if _, err := cgiTimeout(c); err != nil {
		return err
	}

	_, err := os.Stat(cgiDir)
	return err
}

// cgiTimeout reads CGI_TIMEOUT, either milliseconds or a duration
// string like "5s". Zero or missing means no timeout.
func cgiTimeout(c map[string]any) (time.Duration, error) {
	v, exists := c["CGI_TIMEOUT"]
	if !exists {
		return 0, nil
	}
	var d time.Duration
	switch t := v.(type) {
	case int:
		d = time.Duration(t) * time.Millisecond
	case int64:
		d = time.Duration(t) * time.Millisecond
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return 0, pkgerrors.Wrap(BadCgiTimeoutError, err.Error())
		}
		d = parsed
	default:
		return 0, BadCgiTimeoutError
	}
	if d < 0 {
		return 0, pkgerrors.Wrapf(BadCgiTimeoutError, "negative timeout %s", d)
	}
	return d, nil
}

func Serve(w http.ResponseWriter, r *http.Request, conf *map[string]any) {
	c := (*conf)
	cgiDir := confString(c, "CGI_DIR")
	prefix := confString(c, "URL_PREFIX")
	logger := log.WithFields(log.Fields{
		"request": uuid.NewString(),
		"path":    r.URL.Path,
	})

	if !allowedMethods[r.Method] {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if cgiDir == "" {
		logger.Error(NoCgiDirError.Error())
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}
	timeout, err := cgiTimeout(c)
	if err != nil {
		logger.WithError(err).Error("reading cgi timeout")
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}

	m, err := getMetaVars(r, cgiDir, prefix)
	if err != nil {
		logger.WithError(err).Error("building meta vars")
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}
	if m["SCRIPT_FILENAME"] == "" {
		http.Error(w, "NOT FOUND", http.StatusNotFound)
		return
	}
	var rawBody []byte = nil
	if r.ContentLength != 0 && r.Body != nil {
		defer r.Body.Close()
		rawBody, err = io.ReadAll(r.Body)
		if err != nil {
			logger.WithError(err).Warn("reading request body")
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		m["CONTENT_LENGTH"] = strconv.Itoa(len(rawBody))
	}
	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	output, err := execCmd(ctx, m, rawBody, logger)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.WithField("timeout", timeout).Error("script timed out")
		http.Error(w, "Gateway Timeout", http.StatusGatewayTimeout)
		return
	}
	if err != nil {
		logger.WithError(err).Error("running script")
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}
	headers, body, err := parseCgiResponse(output)
	if err != nil {
		logger.WithError(err).Error("parsing script output")
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}
	sts, exists := headers["Status"]
	if !exists {
		logger.Error("script response without status")
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}
	stsInt, err := parseStatus(sts)
	if err != nil {
		logger.WithError(err).Error("bad script status")
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}

	for k, v := range headers {
		if k == "Status" {
			continue
		}
		w.Header().Add(k, v)
	}
	w.WriteHeader(stsInt)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
	logger.WithField("status", stsInt).Debug("served")
}

func confString(c map[string]any, key string) string {
	v := c[key]
	s, _ := v.(string)
	return s
}

// parseStatus takes the code from a Status header like "200 OK".
func parseStatus(sts string) (int, error) {
	fields := strings.Fields(sts)
	if len(fields) == 0 {
		return 0, pkgerrors.Wrap(InvalidCgiResponse, "empty status")
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, pkgerrors.Wrapf(InvalidCgiResponse, "status %q", sts)
	}
	if code < 100 || code > 999 {
		return 0, pkgerrors.Wrapf(InvalidCgiResponse, "status %d", code)
	}
	return code, nil
}

func isNewLine(s string) bool {
	if s == "\n" || s == "\n\r" || s == "\r" || s == "\r\n" || s == "" {
		return true
	}
	return false
}

func parseCgiResponse(response []byte) (map[string]string, []byte, error) {
	headers := make(map[string]string, 0)
	delim := byte('\n')
	previousDelim := 0
	for i, b := range response {
		if b != delim {
			continue
		}
		line := string(response[previousDelim:i])
		if isNewLine(line) {
			return headers, response[i+1:], nil
		}
		previousDelim = i + 1
		line = strings.TrimRight(line, "\r")
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, nil, pkgerrors.Wrapf(InvalidCgiResponse, "header line %q", line)
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return nil, nil, InvalidCgiResponse
}

// execCmd runs the script with meta as its whole environment. The
// script is killed when ctx is done.
func execCmd(ctx context.Context, meta map[string]string, rawBody []byte, logger *log.Entry) ([]byte, error) {
	envVars := make([]string, 0, len(meta))
	for k, v := range meta {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}
	cmdPath := meta["SCRIPT_FILENAME"]
	cmd := exec.CommandContext(ctx, cmdPath)
	cmd.Env = envVars
	cmd.WaitDelay = time.Second
	if rawBody != nil {
		cmd.Stdin = bytes.NewReader(rawBody)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	o, err := cmd.Output()
	if stderr.Len() > 0 {
		logger.WithField("stderr", stderr.String()).Warn("script wrote to stderr")
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "executing %s", cmdPath)
	}
	return o, nil
}

func getMetaVars(r *http.Request, cgiDir string, prefix string) (map[string]string, error) {
	headers := []string{
		"Auth-Type",
		"Remote-User",
		"Content-Type",
		"Server-Software",
	}
	meta := make(map[string]string)

	for _, h := range headers {
		rHeader := r.Header.Get(h)
		if rHeader != "" {
			meta[strings.ReplaceAll(strings.ToUpper(h), "-", "_")] = rHeader
		}
	}

	scriptPath, scriptName, pathInfo := "", "", ""
	if path, ok := strings.CutPrefix(r.URL.Path, prefix); ok {
		scriptPath, scriptName, pathInfo = findScript(cgiDir, path)
		if scriptName != "" {
			scriptName = prefix + scriptName
		}
	}
	pathTranslated := ""

	if pathInfo != "" {
		pathTranslated = cgiDir + pathInfo
	}
	query := r.URL.RawQuery

	contentLength := r.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}
	meta["CONTENT_LENGTH"] = strconv.FormatInt(contentLength, 10)
	meta["GATEWAY_INTERFACE"] = "CGI/1.1"
	meta["PATH_INFO"] = pathInfo
	meta["PATH_TRANSLATED"] = pathTranslated
	meta["SCRIPT_NAME"] = scriptName
	meta["SCRIPT_FILENAME"] = scriptPath
	meta["QUERY_STRING"] = query
	meta["REMOTE_ADDR"] = getIp(r)
	meta["REQUEST_METHOD"] = r.Method
	meta["SERVER_NAME"] = getDomainForRequest(r)
	port, err := getPortForRequest(r)
	if err != nil {
		return nil, err
	}
	meta["SERVER_PORT"] = strconv.Itoa(port)
	meta["SERVER_PROTOCOL"] = r.Proto

	return meta, nil
}

func splitHost(host string) (string, string, error) {
	if !strings.Contains(host, ":") {
		return host, "", nil
	}
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return "", "", pkgerrors.Wrap(ConfusionError, err.Error())
	}
	return h, p, nil
}

func getDomainForRequest(req *http.Request) string {
	domain, _, err := splitHost(req.Host)
	if err != nil {
		return ""
	}
	return strings.ToLower(domain)
}

func getPortForRequest(r *http.Request) (int, error) {
	_, port, err := splitHost(r.Host)
	if err != nil {
		return 0, err
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return 0, pkgerrors.Wrapf(ConfusionError, "port %q", port)
		}
		return p, nil
	}

	if r.TLS != nil || r.URL.Scheme == "https" {
		return 443, nil
	}
	return 80, nil
}

func getIp(req *http.Request) string {
	return req.RemoteAddr
}

// findScript walks path inside cgiDir until it reaches a regular file.
// It returns the file, the url path leading to it and whatever is left
// of path. Paths with ".." never resolve.
func findScript(cgiDir string, path string) (string, string, string) {
	pathparts := strings.Split(path, "/")
	scriptPath := cgiDir
	scriptName := ""
	pathInfo := ""
	for i, p := range pathparts {
		if p == ".." {
			return "", "", ""
		}
		if p == "" || p == "." {
			continue
		}
		testPath := filepath.Join(scriptPath, p)
		info, err := os.Stat(testPath)
		if err != nil {
			pathInfo = "/" + strings.Join(pathparts[i:], "/")
			break
		}
		scriptPath = testPath
		scriptName += "/" + p
		if info.Mode().IsRegular() {
			if rest := pathparts[i+1:]; len(rest) > 0 {
				pathInfo = "/" + strings.Join(rest, "/")
			}
			return scriptPath, scriptName, pathInfo
		}
	}
	return "", "", pathInfo
}
