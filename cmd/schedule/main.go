package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"agentsched.org/internal/app"
	"agentsched.org/internal/audit"
	"agentsched.org/internal/config"
	"agentsched.org/internal/orchestrator"
)

func main() {
	log.SetFlags(0)
	var (
		configPath = flag.String("config", os.Getenv("SCHED_CONFIG"), "path to YAML config")
		user       = flag.String("user", os.Getenv("USER"), "user the event is scheduled for")
		at         = flag.String("at", "", "reference instant (RFC3339); defaults to now")
		showAudit  = flag.Bool("audit", false, "print the audit trail of the run")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: schedule [flags] "<request>"`)
		flag.PrintDefaults()
	}
	flag.Parse()

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		flag.Usage()
		os.Exit(2)
	}
	ref := time.Now()
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatalf("invalid -at: %v", err)
		}
		ref = parsed
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}
	defer a.Close()

	resp := a.Orchestrator.RunAt(ctx, orchestrator.Request{UserRequest: text, UserID: *user}, ref)

	out := map[string]any{"response": resp}
	if *showAudit {
		entries, err := a.Audit.Query(ctx, audit.MaxLimit, audit.Filter{RequestID: resp.RequestID})
		if err != nil {
			log.Fatalf("query audit: %v", err)
		}
		out["audit"] = entries
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if resp.Status != orchestrator.StatusCreated {
		a.Close()
		os.Exit(1)
	}
}
