// offresync audit
//
// Compares, per departement, the offers France Travail lists for a period
// with the active rows of the offres table. Exits 2 when any departement
// differs, so it can gate a CI or cron check.
//
//	audit -since 2025-03-01 -until 2025-03-08 -deps 31,75,974
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"offresync/sync-service/internal/audit"
	"offresync/sync-service/internal/config"
	"offresync/sync-service/internal/francetravail"
	"offresync/sync-service/internal/store"
)

func main() {
	var (
		sinceFlag = flag.String("since", "", "period start, RFC 3339 or YYYY-MM-DD (default: 7 days ago)")
		untilFlag = flag.String("until", "", "period end, exclusive (default: now)")
		depsFlag  = flag.String("deps", "", "comma-separated departement codes (default: all)")
	)
	flag.Parse()

	until := time.Now().UTC()
	if *untilFlag != "" {
		until = mustParseTime("until", *untilFlag)
	}
	since := until.Add(-7 * 24 * time.Hour)
	if *sinceFlag != "" {
		since = mustParseTime("since", *sinceFlag)
	}
	if !until.After(since) {
		log.Fatalf("[audit] -until must be after -since")
	}

	var deps []string
	for _, d := range strings.Split(*depsFlag, ",") {
		if d = strings.TrimSpace(d); d != "" {
			deps = append(deps, d)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[audit] Config error: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)

	partitions, err := config.LoadPartitions(cfg.PartitionsFile)
	if err != nil {
		log.Fatalf("[audit] Partitions: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, cfg.Store())
	if err != nil {
		log.Fatalf("[audit] Store: %v", err)
	}
	defer closeStore()

	client := francetravail.NewClient(francetravail.ClientConfig{
		SearchURL: cfg.SearchURL,
		Tokens: francetravail.NewTokenCache(francetravail.TokenConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
		}),
		RequestInterval: cfg.RequestInterval,
	})

	a := audit.New(francetravail.NewWindower(client, logger), st, partitions, logger)
	log.Printf("[audit] Auditing %s → %s", since.Format(time.RFC3339), until.Format(time.RFC3339))

	rep, err := a.Run(ctx, since, until, deps...)
	if err != nil {
		log.Fatalf("[audit] %v", err)
	}
	if err := rep.Write(os.Stdout); err != nil {
		log.Fatalf("[audit] write report: %v", err)
	}

	if rep.HasGap() {
		closeStore()
		os.Exit(2)
	}
}

func mustParseTime(name, s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	log.Fatalf("[audit] -%s: cannot parse %q", name, s)
	return time.Time{}
}
