// Command stationd runs the background data pipeline of the station
// catalog: it folds raw cell and wifi measurements into station
// position estimates, blacklists stations that move, derives virtual
// LAC stations, trims excessive history and archives raw measurements
// to object storage in verifiable blocks.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowdcell/stationd/internal/archive"
	"github.com/crowdcell/stationd/internal/config"
	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/metrics"
	"github.com/crowdcell/stationd/internal/tasks"
	"github.com/crowdcell/stationd/internal/timeutil"
	"github.com/crowdcell/stationd/internal/version"
)

var (
	dbPath = flag.String("db", "", "SQLite database path (overrides STATIOND_DB)")
	listen = flag.String("listen", "", "Admin/metrics listen address (overrides STATIOND_LISTEN)")
)

func main() {
	// A .env file is optional; the environment wins either way.
	_ = godotenv.Load()
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	// Migration commands operate on the raw database without starting
	// the task loops.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], cfg.DBPath)
		return
	}

	log.Printf("stationd %s (%s) starting", version.Version, version.GitSHA)

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store archive.ObjectStore
	if cfg.S3Bucket != "" {
		store, err = archive.NewS3Store(ctx, cfg.S3Bucket)
		if err != nil {
			log.Fatalf("failed to set up archive store: %v", err)
		}
	} else {
		log.Print("no archive bucket configured; uploads disabled")
		store = archive.DisabledStore{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	env := &tasks.Env{
		DB:               database,
		Store:            store,
		Metrics:          metrics.New(reg),
		Clock:            timeutil.RealClock{},
		ArchiveBatchSize: cfg.ArchiveBatchSize,
	}

	worker := tasks.NewWorker(env, tasks.WorkerConfig{
		UpdateInterval:  cfg.UpdateInterval,
		TrimInterval:    cfg.TrimInterval,
		ArchiveInterval: cfg.ArchiveInterval,
		MinNew:          cfg.MinNewMeasures,
		MaxNew:          cfg.MaxNewMeasures,
		UpdateBatch:     cfg.UpdateBatch,
		LACBatch:        cfg.LACBatch,
		Trim: tasks.TrimConfig{
			MaxMeasures: cfg.TrimMaxMeasures,
			MinAgeDays:  cfg.TrimMinAgeDays,
			Batch:       cfg.TrimBatch,
		},
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
		<-ctx.Done()
		worker.Stop()
	}()

	if cfg.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			// admin debugging routes (accessible only over trusted networks)
			database.AttachAdminRoutes(mux)

			server := &http.Server{
				Addr:    cfg.Listen,
				Handler: mux,
			}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}()
	}

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
