// Command parserd is the PC consumer process: a standalone binary,
// spawned and supervised by cmd/crawler's orchestrator.ParserSupervisor
// (spec §4.6), that pops fetch results from FQ and persists/extracts
// through its own independent KVC clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rohmanhakim/polite-crawler/internal/fetchqueue"
	"github.com/rohmanhakim/polite-crawler/internal/frontier"
	"github.com/rohmanhakim/polite-crawler/internal/frontierfiles"
	"github.com/rohmanhakim/polite-crawler/internal/kvc"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/parser"
	"github.com/rohmanhakim/polite-crawler/internal/storage"
)

func main() {
	var (
		redisHost       = flag.String("redis-host", "localhost", "Redis host")
		redisPort       = flag.Int("redis-port", 6379, "Redis port")
		redisDB         = flag.Int("redis-db", 0, "Redis logical database index")
		redisPassword   = flag.String("redis-password", "", "Redis password")
		dataDir         = flag.String("data-dir", "", "root directory for content-addressed storage and frontier files")
		userAgent       = flag.String("user-agent", "polite-crawler/dev", "user agent string, unused by PC but accepted for symmetry with cmd/crawler")
		allowedHosts    = flag.String("allowed-hosts", "", "comma-separated hosts link discovery is scoped to; empty means unrestricted")
		parserGoroutine = flag.Int("parser-goroutines", 1, "number of parser.Worker goroutines to run")
	)
	flag.Parse()
	_ = *userAgent

	if err := run(*redisHost, *redisPort, *redisDB, *redisPassword, *dataDir, *allowedHosts, *parserGoroutine); err != nil {
		fmt.Fprintf(os.Stderr, "parserd: %s\n", err)
		os.Exit(1)
	}
}

func run(redisHost string, redisPort, redisDB int, redisPassword, dataDir, allowedHostsCSV string, goroutines int) error {
	if dataDir == "" {
		return fmt.Errorf("--data-dir is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metadataSink := metadata.NewRecorder("parser")

	redisAddr := fmt.Sprintf("%s:%d", redisHost, redisPort)
	textKV := kvc.New(kvc.Options{Addr: redisAddr, Password: redisPassword, DB: redisDB})
	defer textKV.Close()
	binaryKV := kvc.New(kvc.Options{Addr: redisAddr, Password: redisPassword, DB: redisDB})
	defer binaryKV.Close()

	ff := frontierfiles.NewStore(dataDir)
	fm := frontier.New(textKV, ff)

	fq := fetchqueue.New(binaryKV)
	ss := storage.NewLocalSink(metadataSink, textKV, dataDir)
	storageAdapter := parser.NewStorageAdapter(&ss)

	var allowedHosts []string
	if allowedHostsCSV != "" {
		allowedHosts = strings.Split(allowedHostsCSV, ",")
		for i := range allowedHosts {
			allowedHosts[i] = strings.TrimSpace(allowedHosts[i])
		}
	}

	if goroutines <= 0 {
		goroutines = 1
	}

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		w := parser.NewWorker(fq, fm, storageAdapter, metadataSink, allowedHosts)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
	return nil
}
