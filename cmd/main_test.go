// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/absmach/mobex/pkg/ratelimit"
)

func TestNewLogger(t *testing.T) {
	cases := []struct {
		level, format string
		debug, json   bool
	}{
		{"debug", "json", true, true},
		{"warn", "text", false, false},
		{"bogus", "json", false, true},
	}
	for _, c := range cases {
		t.Run(c.level+"/"+c.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, c.level, c.format)
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != c.debug {
				t.Errorf("debug enabled = %t, want %t", got, c.debug)
			}
			logger.Error("boom")
			if got := strings.HasPrefix(buf.String(), "{"); got != c.json {
				t.Errorf("json output = %t, want %t: %q", got, c.json, buf.String())
			}
		})
	}
}

func TestHostAdmitter(t *testing.T) {
	a := hostAdmitter{ratelimit.NewLimiter(1, 0, 10)}
	if !a.Allow("10.0.0.1:4000") {
		t.Fatal("first connection refused")
	}
	if a.Allow("10.0.0.1:4001") {
		t.Error("second connection from the same host admitted")
	}
	if !a.Allow("10.0.0.2:4000") {
		t.Error("connection from another host refused")
	}
	if !a.Allow("peer") || a.Allow("peer") {
		t.Error("address without port not limited as a host")
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version = %q, want %q", got, version)
	}
}

func TestPushCmdArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no file", []string{"push"}, "accepts 1 arg"},
		{"missing file", []string{"push", "/nonexistent/object"}, "no such file"},
		{"bad target", []string{"push", "--target", "nope", "main_test.go"}, "invalid target"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cmd := rootCmd()
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(c.args)
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Errorf("Execute() error = %v, want %q", err, c.want)
			}
		})
	}
}
