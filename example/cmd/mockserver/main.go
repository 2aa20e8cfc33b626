// Standalone fake job server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/jobprogress watch --url http://localhost:9999/progress
//	curl -X POST http://localhost:9999/reset
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/jobprogress/example/mockjob"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	steps := flag.Int("steps", 40, "number of job steps")
	every := flag.Duration("step", 500*time.Millisecond, "time per step")
	failAt := flag.Int("fail-at", 0, "step at which the job errors (0 never)")
	flag.Parse()

	fmt.Printf("Mock job server starting on %s\n", *addr)
	fmt.Printf("Job runs %d steps of %s, then reports stopped\n", *steps, *every)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	job := &mockjob.Job{
		Steps:     *steps,
		StepEvery: *every,
		FailAt:    *failAt,
		Jitter:    150 * time.Millisecond,
	}

	srv := &http.Server{Addr: *addr, Handler: job.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
