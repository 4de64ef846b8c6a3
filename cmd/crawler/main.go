// Command crawler is the polite-crawler orchestrator entrypoint: it wires
// the FM/PE/FE/FQ/SS collaborators and internal/orchestrator together from
// a resolved config.Config and runs until a shutdown signal is honored.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/build"
	cmdcli "github.com/rohmanhakim/polite-crawler/internal/cli"
	"github.com/rohmanhakim/polite-crawler/internal/config"
	"github.com/rohmanhakim/polite-crawler/internal/fetcher"
	"github.com/rohmanhakim/polite-crawler/internal/fetchqueue"
	"github.com/rohmanhakim/polite-crawler/internal/frontier"
	"github.com/rohmanhakim/polite-crawler/internal/frontierfiles"
	"github.com/rohmanhakim/polite-crawler/internal/kvc"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/orchestrator"
	"github.com/rohmanhakim/polite-crawler/internal/politeness"
	"github.com/rohmanhakim/polite-crawler/internal/storage"
	"github.com/rohmanhakim/polite-crawler/internal/telemetry"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
	"github.com/rohmanhakim/polite-crawler/pkg/timeutil"
	"github.com/rohmanhakim/polite-crawler/pkg/urlutil"
)

func main() {
	cmdcli.SetRunFunc(run)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rootCtx = ctx

	cmdcli.Execute()
}

// rootCtx carries the signal-derived context down into run, which cobra's
// Run callback does not otherwise thread through.
var rootCtx context.Context

func run(cfg config.Config) error {
	fmt.Printf("polite-crawler %s starting\n", build.FullVersion())

	seeds, err := loadSeeds(cfg.SeedFile())
	if err != nil {
		return fmt.Errorf("loading seed file: %w", err)
	}
	if len(seeds) == 0 {
		return fmt.Errorf("seed file %q contains no URLs", cfg.SeedFile())
	}

	allowedHosts := cfg.AllowedHosts()
	if !cfg.AllowAllHosts() && len(allowedHosts) == 0 {
		allowedHosts = defaultAllowedHosts(seeds)
	}

	if cfg.DryRun() {
		fmt.Printf("dry run: %d seeds, allowed hosts: %s\n", len(seeds), strings.Join(allowedHosts, ","))
		return nil
	}

	metadataSink := metadata.NewRecorder("orchestrator")

	redisAddr := fmt.Sprintf("%s:%d", cfg.RedisHost(), cfg.RedisPort())
	textKV := kvc.New(kvc.Options{Addr: redisAddr, Password: cfg.RedisPassword(), DB: cfg.RedisDB()})
	defer textKV.Close()
	binaryKV := kvc.New(kvc.Options{Addr: redisAddr, Password: cfg.RedisPassword(), DB: cfg.RedisDB()})
	defer binaryKV.Close()

	ff := frontierfiles.NewStore(cfg.DataDir())
	fm := frontier.New(textKV, ff)

	if err := fm.AddURLs(rootCtx, seeds, 0); err != nil {
		return fmt.Errorf("seeding frontier: %w", err)
	}

	userAgent := cfg.UserAgent()
	if userAgent == "" {
		userAgent = deriveUserAgent(cfg.Email())
	}

	pe := politeness.New(textKV, userAgent, metadataSink, politeness.WithMinDelay(cfg.MinFetchDelay()))

	fe := fetcher.NewHTTPFetcher(metadataSink, cfg.MaxWorkers())
	defer fe.Shutdown()

	fq := fetchqueue.New(binaryKV)

	ss := storage.NewLocalSink(metadataSink, textKV, cfg.DataDir())

	telem := telemetry.NewExporter()
	if cfg.MetricsPort() > 0 {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort())
		go func() {
			if err := telem.Serve(addr); err != nil {
				metadataSink.RecordError(time.Now(), "orchestrator", "telemetry.Serve", metadata.CauseUnknown, err.Error(), nil)
			}
		}()
	}

	backoff := timeutil.NewBackoffParam(cfg.BackoffInitialDuration(), cfg.BackoffMultiplier(), cfg.BackoffMaxDuration())
	retryParam := retry.NewRetryParam(cfg.BackoffInitialDuration(), cfg.Jitter(), cfg.RandomSeed(), cfg.MaxAttempt(), backoff)

	var supervisor *orchestrator.ParserSupervisor
	if cfg.ParserProcesses() > 0 {
		parserdPath, err := resolveParserdPath()
		if err != nil {
			return fmt.Errorf("locating parserd binary: %w", err)
		}
		supervisor = orchestrator.NewParserSupervisor(orchestrator.ParserSupervisorParams{
			Command:      parserdPath,
			Args:         parserdArgs(cfg, allowedHosts, userAgent),
			Count:        cfg.ParserProcesses(),
			Backoff:      backoff,
			MetadataSink: metadataSink,
		})
	}

	orch := orchestrator.New(orchestrator.Params{
		FrontierManager: fm,
		Politeness:      pe,
		Fetcher:         fe,
		FetchQueue:      fq,
		Storage:         &ss,
		MetadataSink:    metadataSink,
		Telemetry:       telem,
		KVText:          textKV,
		KVBinary:        binaryKV,
		UserAgent:       userAgent,
		DataDir:         cfg.DataDir(),
		RedisPort:       cfg.RedisPort(),
		MetricsPort:     cfg.MetricsPort(),
		WorkerCount:     cfg.MaxWorkers(),
		MetricsInterval: cfg.MetricsInterval(),
		RetryParam:      retryParam,
		Supervisor:      supervisor,
	})

	return runWithGracePeriod(orch, cfg.ShutdownGracePeriod())
}

// runWithGracePeriod lets in-flight workers finish for up to grace after
// the process receives a shutdown signal, then hard-cancels. orch.Run has
// no opinion on grace periods itself (see its doc comment); this is where
// spec's two-phase shutdown lives.
func runWithGracePeriod(orch *orchestrator.Orchestrator, grace time.Duration) error {
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(workCtx)
		close(done)
	}()

	select {
	case <-rootCtx.Done():
	case <-done:
		wg.Wait()
		return nil
	}

	if grace <= 0 {
		cancelWork()
		wg.Wait()
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		cancelWork()
	}
	wg.Wait()
	return nil
}

// loadSeeds reads a newline-delimited file of seed URLs, skipping blank
// lines and '#'-prefixed comments.
func loadSeeds(path string) ([]url.URL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var seeds []url.URL
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := url.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("parsing seed URL %q: %w", line, err)
		}
		seeds = append(seeds, urlutil.Canonicalize(*u))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return seeds, nil
}

// defaultAllowedHosts derives the same-site default (spec §6) from the
// seeds' registrable domains when the operator names no allowed hosts.
func defaultAllowedHosts(seeds []url.URL) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, u := range seeds {
		domain := urlutil.RegistrableDomain(u.Host)
		if domain == "" || seen[domain] {
			continue
		}
		seen[domain] = true
		hosts = append(hosts, domain)
	}
	return hosts
}

func deriveUserAgent(email string) string {
	if email == "" {
		return "polite-crawler/" + build.Version
	}
	return fmt.Sprintf("polite-crawler/%s (+mailto:%s)", build.Version, email)
}

// resolveParserdPath locates the parserd binary alongside this one, so a
// deployment only needs to put both binaries in the same directory.
func resolveParserdPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(filepath.Dir(self), "parserd")
	if _, err := os.Stat(candidate); err != nil {
		return "parserd", nil // fall back to PATH lookup
	}
	return candidate, nil
}

// parserdArgs mirrors the flags cmd/parserd needs to build its own,
// independent KVC clients and worker pool (spec §4.6: PC's KVC clients are
// independent of the orchestrator's).
func parserdArgs(cfg config.Config, allowedHosts []string, userAgent string) []string {
	args := []string{
		"--redis-host", cfg.RedisHost(),
		"--redis-port", strconv.Itoa(cfg.RedisPort()),
		"--redis-db", strconv.Itoa(cfg.RedisDB()),
		"--data-dir", cfg.DataDir(),
		"--user-agent", userAgent,
		"--parser-goroutines", strconv.Itoa(cfg.ParserGoroutines()),
	}
	if cfg.RedisPassword() != "" {
		args = append(args, "--redis-password", cfg.RedisPassword())
	}
	if len(allowedHosts) > 0 {
		args = append(args, "--allowed-hosts", strings.Join(allowedHosts, ","))
	}
	return args
}
