// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealth(t *testing.T) {
	cases := []struct {
		name     string
		register func(c *Checker)
		want     Status
		code     int
		ready    int
	}{
		{
			name:     "all healthy",
			register: func(c *Checker) { c.Register("loop", true, func(context.Context) error { return nil }) },
			want:     StatusHealthy,
			code:     http.StatusOK,
			ready:    http.StatusOK,
		},
		{
			name: "non-critical failure degrades",
			register: func(c *Checker) {
				c.Register("loop", true, func(context.Context) error { return nil })
				c.Register("sessions", false, func(context.Context) error { return errors.New("full") })
			},
			want:  StatusDegraded,
			code:  http.StatusOK,
			ready: http.StatusServiceUnavailable,
		},
		{
			name: "critical failure",
			register: func(c *Checker) {
				c.Register("loop", true, func(context.Context) error { return errors.New("stopped") })
				c.Register("sessions", false, func(context.Context) error { return errors.New("full") })
			},
			want:  StatusUnhealthy,
			code:  http.StatusServiceUnavailable,
			ready: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(time.Minute)
			tc.register(c)

			status, checks := c.Health(context.Background())
			if status != tc.want {
				t.Errorf("Health() = %s, want %s", status, tc.want)
			}
			for i := 1; i < len(checks); i++ {
				if checks[i-1].Name > checks[i].Name {
					t.Errorf("checks not sorted: %s before %s", checks[i-1].Name, checks[i].Name)
				}
			}

			rec := httptest.NewRecorder()
			c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tc.code {
				t.Errorf("HTTPHandler() code = %d, want %d", rec.Code, tc.code)
			}
			var body struct {
				Status Status  `json:"status"`
				Checks []Check `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body error = %v", err)
			}
			if body.Status != tc.want {
				t.Errorf("body status = %s, want %s", body.Status, tc.want)
			}

			rec = httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tc.ready {
				t.Errorf("ReadinessHandler() code = %d, want %d", rec.Code, tc.ready)
			}
		})
	}
}

func TestCache(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewChecker(time.Second)
	c.now = func() time.Time { return now }

	calls := 0
	c.Register("count", false, func(context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	if calls != 1 {
		t.Errorf("check ran %d times within TTL, want 1", calls)
	}
	now = now.Add(time.Second)
	c.Health(context.Background())
	if calls != 2 {
		t.Errorf("check ran %d times after TTL, want 2", calls)
	}
}

func TestCheckFuncs(t *testing.T) {
	ctx := context.Background()

	var addr net.Addr
	listening := Listening(func() net.Addr { return addr })
	if err := listening(ctx); err == nil {
		t.Error("Listening() passed without address")
	}
	addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6500}
	if err := listening(ctx); err != nil {
		t.Errorf("Listening() error = %v", err)
	}

	done := make(chan struct{})
	running := Running(done)
	if err := running(ctx); err != nil {
		t.Errorf("Running() error = %v", err)
	}
	close(done)
	if err := running(ctx); err == nil {
		t.Error("Running() passed after stop")
	}

	n := 3
	below := Below(func() int { return n }, 4)
	if err := below(ctx); err != nil {
		t.Errorf("Below() error = %v", err)
	}
	n = 4
	if err := below(ctx); err == nil {
		t.Error("Below() passed at limit")
	}
	if err := Below(func() int { return 100 }, 0)(ctx); err != nil {
		t.Errorf("Below() with no limit error = %v", err)
	}

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("LivenessHandler() code = %d, want 200", rec.Code)
	}
}
