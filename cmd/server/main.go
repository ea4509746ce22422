/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Create API handler and payroll sync worker
  4. Optionally seed demo data
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port              HTTP server port (default: 8080)
  -db                SQLite database path (default: attendance.db)
                     Use ":memory:" for in-memory database
  -seed              Load demo data on startup
  -payroll-interval  Payroll sweep cadence (default: 1m)
  -payroll-attempts  Retry ceiling per queued day (default: 5)
  -payroll-disabled  Do not start the payroll sync worker

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the payroll worker (waits for an in-flight sweep)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database and demo data
  ./server -db="./data/attendance.db" -seed

  # Run with in-memory database
  ./server -db=":memory:" -seed

  # Tighter payroll cadence for local testing
  ./server -payroll-interval=5s

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - payroll/worker.go: Sync worker
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/store/sqlite"
	"github.com/warp/attendance-engine/workflow"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "attendance.db", "SQLite database path")
	seed := flag.Bool("seed", false, "load demo data on startup")
	payrollInterval := flag.Duration("payroll-interval", time.Minute, "payroll sweep cadence")
	payrollAttempts := flag.Int("payroll-attempts", 5, "payroll retry ceiling per day")
	payrollDisabled := flag.Bool("payroll-disabled", false, "do not start the payroll sync worker")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	clock := attendance.SystemClock{}
	notifier := workflow.LogNotifier{}

	// Initialize handler and payroll worker. The gateway here is the stub
	// used for development; production wires the real payroll client.
	handler := api.NewHandler(store, store, clock, notifier)
	worker := payroll.NewWorker(store, store, payroll.LogGateway{}, clock)
	worker.Interval = *payrollInterval
	worker.MaxAttempts = *payrollAttempts
	handler.Worker = worker

	if *seed {
		if err := api.Seed(context.Background(), handler, clock); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
	}

	if !*payrollDisabled {
		worker.Start()
		defer worker.Stop()
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
