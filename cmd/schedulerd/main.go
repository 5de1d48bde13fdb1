package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"agentsched.org/internal/app"
	"agentsched.org/internal/config"
	"agentsched.org/internal/httpapi"
	"agentsched.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("SCHED_CONFIG"), "path to YAML config")
	healthcheck := flag.String("healthcheck", "", "probe the gRPC health service at this address and exit")
	flag.Parse()

	if *healthcheck != "" {
		os.Exit(probe(*healthcheck))
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}
	defer a.Close()

	ready := httpapi.ReadyProbe{Checks: []func(context.Context) error{a.Ping}}
	api := httpapi.New(httpapi.Config{
		Version:      version,
		Ready:        ready,
		RateRPS:      cfg.HTTP.RateRPS,
		RateBurst:    cfg.HTTP.RateBurst,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
	}, a.Orchestrator, a.Audit, a.Stream)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/audit/stream holds the connection open.
		IdleTimeout: 60 * time.Second,
		// Streams end when the signal context is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "off" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		health := httpapi.NewHealthServer(ready)
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	obs.Log(obs.LevelInfo, "server_starting", map[string]any{
		"version":         version,
		"http_addr":       cfg.HTTP.Addr,
		"grpc_addr":       cfg.GRPC.Addr,
		"calendar_driver": cfg.Calendar.Driver,
		"notify_driver":   cfg.Notify.Driver,
		"audit_driver":    cfg.Audit.Driver,
		"key_epoch":       a.Keys.Current().Epoch,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Log(obs.LevelInfo, "server_stopping", nil)
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	obs.Log(obs.LevelInfo, "server_stopped", nil)
}

// probe exits non-zero unless the scheduler at target reports SERVING.
func probe(target string) int {
	client, err := httpapi.DialHealth(target)
	if err != nil {
		log.Printf("dial %s: %v", target, err)
		return 1
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Check(ctx, ""); err != nil {
		log.Printf("unhealthy: %v", err)
		return 1
	}
	return 0
}
