// Demo of the jobprogress SDK against a local fake job.
//
//	go run ./example
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/jobprogress"
	"github.com/jpalmerr/jobprogress/example/mockjob"
	"github.com/jpalmerr/jobprogress/render"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// start the fake job (see mockjob)
	job := &mockjob.Job{Steps: 30, StepEvery: 200 * time.Millisecond, Jitter: 150 * time.Millisecond, Logger: logger}
	srv := &http.Server{Addr: "127.0.0.1:9999", Handler: job.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock job server error", "error", err)
		}
	}()
	defer srv.Close()
	time.Sleep(100 * time.Millisecond)

	tr, err := jobprogress.New("http://127.0.0.1:9999/progress",
		jobprogress.WithName("etl"),
		jobprogress.WithRefreshInterval(250*time.Millisecond),
		jobprogress.WithLogger(logger),
		jobprogress.WithRenderer(render.NewBar(os.Stderr, render.WithLabel("etl"))),
		jobprogress.WithCompleteCallback(func(e jobprogress.CompleteEvent) {
			logger.Warn("job complete", "reason", e.Reason.String())
		}),
	)
	if err != nil {
		logger.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := tr.Run(ctx)
	if err != nil {
		fmt.Println("interrupted at", snap.PercentText)
		return
	}
	fmt.Printf("finished: %s after %d/%d steps\n", snap.Reason, snap.Value, snap.Max)
}
