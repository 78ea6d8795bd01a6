// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	. "github.com/covguide/covguide/covguide-defs"
	"github.com/covguide/covguide/program"
	"github.com/covguide/covguide/stats"
	"github.com/covguide/covguide/tracker"
)

var (
	flagMeta        = flag.String("meta", MetaFile, "program metadata written by covguide-build")
	flagTraces      = flag.String("traces", "", "dir with recorded path traces")
	flagWorkdir     = flag.String("workdir", "", "dir for run.stats, run.istats and run.bcstats (default covguide-out)")
	flagConfig      = flag.String("config", "", "YAML config file, explicit flags take precedence")
	flagCommitEvery = flag.Int("commit", DefaultStatsCommitEvery, "stats rows per transaction")
	flagStatsEvery  = flag.Int("statsevery", 100000, "steps between stats rows")
	flagDist        = flag.Bool("dist", true, "compute distance to uncovered code")
	flagIStats      = flag.Bool("istats", true, "write per-line statistics")
	flagCallPaths   = flag.Bool("callpaths", true, "attribute instructions to call paths")
	flagV           = flag.Int("v", 0, "verbosity level")
	flagHTTP        = flag.String("http", "", "HTTP server listen address")

	shutdown uint32
)

func main() {
	flag.Parse()
	if *flagTraces == "" {
		log.Fatalf("-traces is not set")
	}
	cfg := loadConfig()
	if cfg.OutputDir == "" {
		log.Fatalf("-workdir is not set")
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		atomic.StoreUint32(&shutdown, 1)
		log.Printf("shutting down...")
	}()

	prog, err := program.ReadMeta(*flagMeta)
	if err != nil {
		log.Fatalf("%v", err)
	}
	tr, err := tracker.New(prog, cfg)
	if err != nil {
		log.Fatalf("failed to start tracking: %v", err)
	}
	if *flagHTTP != "" {
		s := newStatsServer()
		s.listen(*flagHTTP)
		tr.OnFlush = s.broadcast
	} else if cfg.Verbose >= 1 {
		tr.OnFlush = func(row stats.Row) {
			log.Println(makeRunStats(row).String())
		}
	}

	ts := readTraceSet(*flagTraces)
	r := newReplayer(prog, tr)
	for _, t := range ts.sorted() {
		if atomic.LoadUint32(&shutdown) != 0 {
			break
		}
		if err := r.replay(t.data); err != nil {
			log.Printf("trace %v: %v", t.name, err)
		}
		if cfg.Verbose >= 2 {
			log.Printf("replayed %v", t.name)
		}
	}
	if err := tr.Done(); err != nil {
		log.Fatalf("%v", err)
	}
	log.Println(makeRunStats(tr.Row()).String())
}

func loadConfig() tracker.Config {
	cfg := tracker.DefaultConfig()
	if *flagConfig != "" {
		var err error
		if cfg, err = tracker.LoadConfig(*flagConfig); err != nil {
			log.Fatalf("%v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workdir":
			cfg.OutputDir = *flagWorkdir
		case "commit":
			cfg.StatsCommitEvery = *flagCommitEvery
		case "statsevery":
			cfg.StatsEvery = *flagStatsEvery
		case "dist":
			cfg.UpdateMinDistToUncovered = *flagDist
		case "istats":
			cfg.IStats = *flagIStats
		case "callpaths":
			cfg.CallPaths = *flagCallPaths
		case "v":
			cfg.Verbose = *flagV
		}
	})
	return cfg
}
