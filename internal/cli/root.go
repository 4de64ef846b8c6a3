package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/build"
	"github.com/rohmanhakim/polite-crawler/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile             string
	seedFile            string
	dataDir             string
	email               string
	userAgent           string
	maxWorkers          int
	parserProcesses     int
	parserGoroutines    int
	redisHost           string
	redisPort           int
	redisDB             int
	redisPassword       string
	metricsPort         int
	metricsInterval     time.Duration
	allowedHosts        string
	allowAllHosts       bool
	minFetchDelay       time.Duration
	jitter              time.Duration
	randomSeed          int64
	timeout             time.Duration
	dryRun              bool
	shutdownGracePeriod time.Duration
)

// runCrawl is invoked with the fully-built Config once flags and any
// config file have been reconciled. cmd/crawler wires this to the
// orchestrator; the default just reports the resolved configuration,
// which keeps this package testable without an orchestrator dependency.
var runCrawl = func(cfg config.Config) error {
	fmt.Printf("Configuration initialized successfully\n")
	fmt.Printf("Seed File: %s\n", cfg.SeedFile())
	fmt.Printf("Data Dir: %s\n", cfg.DataDir())
	fmt.Printf("Max Workers: %d\n", cfg.MaxWorkers())
	fmt.Printf("Redis: %s:%d/%d\n", cfg.RedisHost(), cfg.RedisPort(), cfg.RedisDB())
	fmt.Printf("Metrics Port: %d\n", cfg.MetricsPort())
	fmt.Printf("Min Fetch Delay: %v\n", cfg.MinFetchDelay())
	fmt.Printf("Jitter: %v\n", cfg.Jitter())
	fmt.Printf("Timeout: %v\n", cfg.Timeout())
	fmt.Printf("User Agent: %s\n", cfg.UserAgent())
	fmt.Printf("Dry Run: %t\n", cfg.DryRun())
	return nil
}

// SetRunFunc lets a main package wire the orchestrator into the CLI
// without this package depending on internal/orchestrator directly.
func SetRunFunc(f func(config.Config) error) {
	runCrawl = f
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "polite-crawler",
	Version: build.FullVersion(),
	Short:   "A polite, high-throughput, single-node web crawler.",
	Long: `polite-crawler discovers and fetches pages from a seeded set of
hosts, respecting robots.txt and a configurable per-host crawl delay,
persisting fetched bytes content-addressed and crawl state in Redis.`,
	Run: func(cmd *cobra.Command, args []string) {
		if seedFile == "" {
			fmt.Fprintf(os.Stderr, "Error: --seed-file is required. Please provide a path to a file of seed URLs.\n")
			cmd.Usage()
			os.Exit(1)
		}

		cfg := InitConfig()

		if err := runCrawl(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&seedFile, "seed-file", "", "path to a newline-delimited file of seed URLs")
	rootCmd.PersistentFlags().StringVar(&email, "email", "", "contact address placed in the User-Agent header")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "root directory for content-addressed storage and frontier files")
	rootCmd.PersistentFlags().IntVar(&maxWorkers, "max-workers", 0, "maximum number of concurrent fetch worker goroutines")
	rootCmd.PersistentFlags().StringVar(&redisHost, "redis-host", "", "Redis host")
	rootCmd.PersistentFlags().IntVar(&redisPort, "redis-port", 0, "Redis port")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis logical database index")
	rootCmd.PersistentFlags().StringVar(&redisPassword, "redis-password", "", "Redis password (overridable by REDIS_PASSWORD)")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&minFetchDelay, "min-fetch-delay-seconds", 0, "minimum delay between requests to the same host, as a Go duration such as 70s (a bare number is not accepted)")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random jitter added to the backoff between fetch retry attempts")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "fetch timeout setting; stored and printed only, the fetcher applies a fixed 45s per request")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "port for the Prometheus /metrics endpoint")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 0, "how often metrics and progress are logged")
	rootCmd.PersistentFlags().IntVar(&parserProcesses, "parser-processes", 0, "number of parser consumer processes to supervise")
	rootCmd.PersistentFlags().IntVar(&parserGoroutines, "parser-goroutines", 0, "number of parser worker goroutines per process")
	rootCmd.PersistentFlags().StringVar(&allowedHosts, "allowed-hosts", "", "comma-separated hosts (and their subdomains) the crawl may follow links into; default is same-site as the seeds")
	rootCmd.PersistentFlags().BoolVar(&allowAllHosts, "allow-all-hosts", false, "follow links to any host, disabling the same-site default")
	rootCmd.PersistentFlags().DurationVar(&shutdownGracePeriod, "shutdown-grace-period", 0, "time to let in-flight workers finish after a shutdown signal before cancelling them")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "load seeds, print the allowed hosts, and exit without crawling")
}

// InitConfig reads in config file, ENV variables, and CLI flags, in that
// order of precedence, exiting the process on error.
func InitConfig() config.Config {
	cfg, err := InitConfigWithError()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError is InitConfig without the exit-on-error behavior,
// to keep error cases testable.
func InitConfigWithError() (config.Config, error) {
	if seedFile == "" {
		return config.Config{}, fmt.Errorf("%w: seedFile cannot be empty", config.ErrInvalidConfig)
	}

	var cfg config.Config
	var err error

	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err = config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
	} else {
		fmt.Println("No config file specified. Using default flag values or environment variables")
		cfg, err = buildConfigFromFlags()
		if err != nil {
			return config.Config{}, err
		}
	}

	if envPassword := os.Getenv("REDIS_PASSWORD"); envPassword != "" {
		cfg = applyRedisPasswordOverride(cfg, envPassword)
	}

	return cfg, nil
}

func buildConfigFromFlags() (config.Config, error) {
	configBuilder := config.WithDefault(seedFile)

	if dataDir != "" {
		configBuilder = configBuilder.WithDataDir(dataDir)
	}
	if email != "" {
		configBuilder = configBuilder.WithEmail(email)
	}
	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}
	if maxWorkers > 0 {
		configBuilder = configBuilder.WithMaxWorkers(maxWorkers)
	}
	if parserProcesses > 0 {
		configBuilder = configBuilder.WithParserProcesses(parserProcesses)
	}
	if parserGoroutines > 0 {
		configBuilder = configBuilder.WithParserGoroutines(parserGoroutines)
	}
	if redisHost != "" {
		configBuilder = configBuilder.WithRedisHost(redisHost)
	}
	if redisPort > 0 {
		configBuilder = configBuilder.WithRedisPort(redisPort)
	}
	if redisDB > 0 {
		configBuilder = configBuilder.WithRedisDB(redisDB)
	}
	if redisPassword != "" {
		configBuilder = configBuilder.WithRedisPassword(redisPassword)
	}
	if metricsPort > 0 {
		configBuilder = configBuilder.WithMetricsPort(metricsPort)
	}
	if metricsInterval > 0 {
		configBuilder = configBuilder.WithMetricsInterval(metricsInterval)
	}
	if allowedHosts != "" {
		hosts := strings.Split(allowedHosts, ",")
		for i := range hosts {
			hosts[i] = strings.TrimSpace(hosts[i])
		}
		configBuilder = configBuilder.WithAllowedHosts(hosts)
	}
	if allowAllHosts {
		configBuilder = configBuilder.WithAllowAllHosts(true)
	}
	if shutdownGracePeriod > 0 {
		configBuilder = configBuilder.WithShutdownGracePeriod(shutdownGracePeriod)
	}
	if minFetchDelay > 0 {
		configBuilder = configBuilder.WithMinFetchDelay(minFetchDelay)
	}
	if jitter > 0 {
		configBuilder = configBuilder.WithJitter(jitter)
	}
	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}
	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}
	if dryRun {
		configBuilder = configBuilder.WithDryRun(dryRun)
	}

	return configBuilder.Build()
}

func applyRedisPasswordOverride(cfg config.Config, password string) config.Config {
	overridden, _ := (&cfg).WithRedisPassword(password).Build()
	return overridden
}

func ResetFlags() {
	cfgFile = ""
	seedFile = ""
	dataDir = ""
	email = ""
	userAgent = ""
	maxWorkers = 0
	parserProcesses = 0
	parserGoroutines = 0
	redisHost = ""
	redisPort = 0
	redisDB = 0
	redisPassword = ""
	metricsPort = 0
	metricsInterval = 0
	allowedHosts = ""
	allowAllHosts = false
	minFetchDelay = 0
	jitter = 0
	randomSeed = 0
	timeout = 0
	dryRun = false
	shutdownGracePeriod = 0
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetSeedFileForTest(path string) {
	seedFile = path
}

func SetDataDirForTest(dir string) {
	dataDir = dir
}

func SetEmailForTest(e string) {
	email = e
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetMaxWorkersForTest(workers int) {
	maxWorkers = workers
}

func SetRedisHostForTest(host string) {
	redisHost = host
}

func SetRedisPortForTest(port int) {
	redisPort = port
}

func SetRedisDBForTest(db int) {
	redisDB = db
}

func SetRedisPasswordForTest(password string) {
	redisPassword = password
}

func SetMetricsPortForTest(port int) {
	metricsPort = port
}

func SetMinFetchDelayForTest(d time.Duration) {
	minFetchDelay = d
}

func SetJitterForTest(j time.Duration) {
	jitter = j
}

func SetRandomSeedForTest(seed int64) {
	randomSeed = seed
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetDryRunForTest(dry bool) {
	dryRun = dry
}

func SetParserProcessesForTest(n int) {
	parserProcesses = n
}

func SetParserGoroutinesForTest(n int) {
	parserGoroutines = n
}

func SetMetricsIntervalForTest(d time.Duration) {
	metricsInterval = d
}

func SetAllowedHostsForTest(hosts string) {
	allowedHosts = hosts
}

func SetAllowAllHostsForTest(allow bool) {
	allowAllHosts = allow
}

func SetShutdownGracePeriodForTest(d time.Duration) {
	shutdownGracePeriod = d
}
