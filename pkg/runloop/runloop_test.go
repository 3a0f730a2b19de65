// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package runloop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newLoop() *Loop {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func start(t *testing.T, l *Loop) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := l.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return cancel
}

func TestOrder(t *testing.T) {
	l := newLoop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if err := l.Post(func(context.Context) { got = append(got, i) }); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}
	start(t, l)

	if err := l.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("ran %d funcs, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want in-order execution", i, v)
		}
	}
}

func TestConcurrentPost(t *testing.T) {
	l := newLoop()
	start(t, l)

	const n = 50
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Post(func(context.Context) { count++ })
		}()
	}
	wg.Wait()

	if err := l.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}
}

func TestDoReturnsError(t *testing.T) {
	l := newLoop()
	start(t, l)

	want := errors.New("boom")
	if err := l.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
}

func TestStopped(t *testing.T) {
	l := newLoop()
	cancel := start(t, l)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if err := l.Post(func(context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post() after stop error = %v, want ErrStopped", err)
	}
	if err := l.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after stop error = %v, want ErrStopped", err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run() error = %v, want ErrRunning", err)
	}
}
