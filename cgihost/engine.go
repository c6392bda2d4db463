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

package cgihost

import (
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// LoadConfig reads a yaml host config. A relative CGI_DIR is taken
// relative to the config file.
func LoadConfig(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reading config %s", path)
	}
	conf := make(map[string]any)
	if err := yaml.Unmarshal(raw, &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "parsing config %s", path)
	}
	if d, ok := conf["CGI_DIR"].(string); ok && !filepath.IsAbs(d) {
		conf["CGI_DIR"] = filepath.Join(filepath.Dir(path), d)
	}
	return conf, nil
}

func Handler(conf map[string]any) gin.HandlerFunc {
	return func(c *gin.Context) {
		Serve(c.Writer, c.Request, &conf)
	}
}

// NewEngine validates conf and mounts the cgi handler under URL_PREFIX.
func NewEngine(conf map[string]any) (*gin.Engine, error) {
	if err := Init("", &conf); err != nil {
		return nil, err
	}
	e := gin.New()
	e.Use(gin.Recovery())
	e.Any(confString(conf, "URL_PREFIX")+"/*path", Handler(conf))
	return e, nil
}
