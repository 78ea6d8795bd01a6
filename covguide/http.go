// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"time"

	assetfs "github.com/elazarl/go-bindata-assetfs"
	"github.com/stephens2424/writerset"

	"github.com/covguide/covguide/stats"
)

//go:embed assets
var assets embed.FS

func assetFS() *assetfs.AssetFS {
	return &assetfs.AssetFS{
		Asset: assets.ReadFile,
		AssetDir: func(name string) ([]string, error) {
			entries, err := assets.ReadDir(name)
			if err != nil {
				return nil, err
			}
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Name()
			}
			return names, nil
		},
		AssetInfo: func(name string) (os.FileInfo, error) {
			return fs.Stat(assets, name)
		},
		Prefix: "assets",
	}
}

// statsServer streams stats rows to browsers as server-sent events.
type statsServer struct {
	statsWriters *writerset.WriterSet
}

func newStatsServer() *statsServer {
	return &statsServer{
		statsWriters: writerset.New(),
	}
}

func (s *statsServer) listen(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/eventsource", s.eventSource)
	mux.HandleFunc("/", s.index)
	go func() {
		fmt.Printf("Serving statistics on http://%s/\n", addr)
		panic(http.ListenAndServe(addr, mux))
	}()
}

// broadcast runs on the tracking goroutine; HTTP handlers only ever see the
// marshaled snapshot.
func (s *statsServer) broadcast(row stats.Row) {
	rs := makeRunStats(row)

	// log to stdout
	log.Println(rs.String())

	b, err := json.Marshal(rs)
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(s.statsWriters, "event: ping\ndata: %s\n\n", string(b))
	s.statsWriters.Flush()
}

func (s *statsServer) eventSource(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	<-s.statsWriters.Add(w)
}

func (s *statsServer) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		r.URL.Path = "/stats.html"
	}
	http.FileServer(assetFS()).ServeHTTP(w, r)
}

type runStats struct {
	stats.Row
	StartTime time.Time
	Uptime    string
}

func makeRunStats(row stats.Row) runStats {
	return runStats{
		Row:       row,
		StartTime: time.Now().Add(-row.Elapsed),
		Uptime:    fmtDuration(row.Elapsed),
	}
}

func (s runStats) String() string {
	return fmt.Sprintf("instructions: %v (%.0f/sec), covered: %v, uncovered: %v, blocks: %v,"+
		" lines: %v, branches: %v full, %v partial of %v, paths: %v, uptime: %v",
		s.Instructions, s.InstructionsPerSec(), s.CoveredInstructions, s.UncoveredInstructions,
		s.Blocks, s.Lines, s.FullBranches, s.PartialBranches, s.Branches, s.LivePaths, s.Uptime)
}

func (s runStats) InstructionsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Instructions) * 1e9 / float64(s.Elapsed)
}

func fmtDuration(d time.Duration) string {
	if d.Hours() >= 1 {
		return fmt.Sprintf("%vh%vm", int(d.Hours()), int(d.Minutes())%60)
	} else if d.Minutes() >= 1 {
		return fmt.Sprintf("%vm%vs", int(d.Minutes()), int(d.Seconds())%60)
	} else {
		return fmt.Sprintf("%vs", int(d.Seconds()))
	}
}
