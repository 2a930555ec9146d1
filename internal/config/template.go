// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
)

// TemplateContext holds the values available to path templates.
type TemplateContext struct {
	Home    string
	Cwd     string
	TempDir string
}

// DefaultTemplateContext fills the context from the environment.
func DefaultTemplateContext(cfg *Config) *TemplateContext {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	tmp := cfg.Supervisor.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	return &TemplateContext{Home: home, Cwd: cwd, TempDir: tmp}
}

var funcMap = template.FuncMap{
	"slugify": Slugify,
	"default": Default,
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
}

// Expand expands template actions in value.
func Expand(value string, ctx *TemplateContext) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}
	tmpl, err := template.New("value").Funcs(funcMap).Option("missingkey=error").Parse(value)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", value, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("expand template %q: %w", value, err)
	}
	return buf.String(), nil
}

// ExpandPaths expands templates in every path-like setting.
func ExpandPaths(cfg *Config, ctx *TemplateContext) error {
	fields := []*string{
		&cfg.Supervisor.ConnectionFile,
		&cfg.Supervisor.BundledPath,
		&cfg.Supervisor.TempDir,
		&cfg.State.Path,
		&cfg.State.Workspace,
		&cfg.API.TLSCert,
		&cfg.API.TLSKey,
	}
	for _, f := range fields {
		v, err := Expand(*f, ctx)
		if err != nil {
			return err
		}
		*f = v
	}
	for i, root := range cfg.Supervisor.DevRoots {
		v, err := Expand(root, ctx)
		if err != nil {
			return err
		}
		cfg.Supervisor.DevRoots[i] = v
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and replaces runs of other characters with "-".
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Default returns def when value is empty.
func Default(def, value string) string {
	if value == "" {
		return def
	}
	return value
}
