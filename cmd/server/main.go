package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cavecraft.ai/internal/caves/carve"
	"cavecraft.ai/internal/caves/dispatch"
	"cavecraft.ai/internal/caves/genjob"
	"cavecraft.ai/internal/caves/samples"
	"cavecraft.ai/internal/persistence/indexdb"
	"cavecraft.ai/internal/persistence/joblog"
	"cavecraft.ai/internal/sim/tuning"
	"cavecraft.ai/internal/sim/world"
	"cavecraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite job/library index")
		adminToken = flag.String("admin_token", "", "token granting caves.reload over ws (or set CAVECRAFT_ADMIN_TOKEN)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	token := strings.TrimSpace(*adminToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("CAVECRAFT_ADMIN_TOKEN"))
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "caves.db"))
		if err != nil {
			logger.Fatalf("open index backend: %v", err)
		}
		defer idx.Close()
	}

	jobLog := joblog.NewJobLogger(worldDir)
	defer jobLog.Close()

	w, err := world.New(world.WorldConfig{
		ID:         *worldID,
		Seed:       *seed,
		TickRateHz: tune.TickRateHz,
		MinY:       tune.MinHeight,
		MaxY:       tune.MaxHeight,
		SurfaceY:   tune.SurfaceY,
		BoundaryR:  tune.WorldBoundaryR,
		ObsRadius:  tune.ObsRadius,
	})
	if err != nil {
		logger.Fatalf("create world: %v", err)
	}

	repo := samples.NewRepository(log.New(os.Stdout, "[caves] ", log.LstdFlags|log.Lmicroseconds))
	sources := samples.DirSources(tune.CaveGen.LibraryDir)
	count := repo.Load(sources)
	if count == 0 {
		logger.Printf("warning: no cave samples loaded on startup")
	} else {
		logger.Printf("loaded %d cave samples on startup", count)
	}
	if idx != nil {
		idx.RecordLibraryLoad(len(sources), count)
	}

	// nil interfaces must stay nil, not wrap nil pointers.
	var jobIndex genjob.Index
	var libIndex dispatch.LibraryIndex
	if idx != nil {
		jobIndex = idx
		libIndex = idx
	}

	runner := genjob.NewRunner(genjob.Config{
		GeneratorPath: tune.CaveGen.GeneratorPath,
		WeightsPath:   tune.CaveGen.WeightsPath,
		ZDim:          tune.CaveGen.ZDim,
		OutDir:        tune.CaveGen.OutDir,
		Timeout:       time.Duration(tune.CaveGen.TimeoutSeconds) * time.Second,
	}, log.New(os.Stdout, "[cavegen] ", log.LstdFlags|log.Lmicroseconds), w, jobLog, jobIndex)

	d := &dispatch.Dispatcher{
		World:      w,
		Repo:       repo,
		Engine:     carveEngine(tune.CaveGen.Offset),
		Gen:        runner,
		Log:        logger,
		LibraryDir: tune.CaveGen.LibraryDir,
		Index:      libIndex,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	worldDone := make(chan error, 1)
	go func() { worldDone <- w.Run(ctx) }()

	wsSrv := ws.NewServer(w, d, logger, token)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s (world %s, seed %d)", *addr, *worldID, *seed)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	w.Stop()
	if err := <-worldDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("world loop: %v", err)
	}
}

func carveEngine(offset []int) carve.Engine {
	e := carve.Engine{Offset: world.Vec3i{X: -16, Y: -8, Z: -16}}
	if len(offset) == 3 {
		e.Offset = world.Vec3i{X: offset[0], Y: offset[1], Z: offset[2]}
	}
	return e
}
