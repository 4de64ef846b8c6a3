package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every tunable for a crawl run. It is built either from
// CLI flags (see internal/cli) or from a JSON file via WithConfigFile,
// and is otherwise immutable once Build is called.
type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Path to a newline-delimited file of seed URLs to start crawling from.
	seedFile string
	// Root directory under which content, frontier files, and other
	// crawl-local state are stored.
	dataDir string

	//===============
	// Politeness
	//===============
	// Contact address placed in the User-Agent header per robots.txt convention.
	email string
	// Raw User-Agent header string. If empty, it is derived from email.
	userAgent string
	// Minimum, fixed waiting time enforced between two requests to the same host.
	minFetchDelay time.Duration
	// Randomized variation added to the backoff between fetch retry attempts;
	// it is not added to the minimum delay.
	jitter time.Duration
	// Controls the random number generator used for jitter.
	randomSeed int64

	//===============
	// Concurrency
	//===============
	// Maximum number of crawl worker goroutines processing URLs concurrently;
	// it does not control OS threads or CPU parallelism.
	maxWorkers int
	// Number of independent cmd/parserd processes the orchestrator supervises.
	parserProcesses int
	// Number of parser.Worker goroutines run inside each parserd process.
	parserGoroutines int
	// Fetch timeout setting. It is stored and reported only; the fetcher does
	// not read it and applies its own fixed 45s budget per request.
	timeout time.Duration
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Redis (KVC backend)
	//===============
	redisHost     string
	redisPort     int
	redisDB       int
	redisPassword string

	//===============
	// Observability
	//===============
	// TCP port on which the Prometheus /metrics endpoint is served. 0 disables it.
	metricsPort int
	// How often the orchestrator exports metrics and logs crawl progress.
	metricsInterval time.Duration

	//===============
	// Scope
	//===============
	// Hosts (and their subdomains) the crawl is allowed to discover links
	// into. Empty means the same-site default derived from the seed hosts
	// (see allowAllHosts). Ignored if allowAllHosts is set.
	allowedHosts []string
	// Disables scope restriction entirely, overriding the same-site
	// default derived from seed hosts when allowedHosts is also empty.
	allowAllHosts bool

	//===============
	// Operational
	//===============
	// Whether the program simulates what it would do without actually
	// performing any irreversible or side-effecting actions.
	dryRun bool
	// How long the orchestrator waits for in-flight workers to finish
	// after a shutdown signal before cancelling them outright.
	shutdownGracePeriod time.Duration
}

type configDTO struct {
	SeedFile               string        `json:"seedFile"`
	DataDir                string        `json:"dataDir,omitempty"`
	Email                  string        `json:"email,omitempty"`
	UserAgent              string        `json:"userAgent,omitempty"`
	MinFetchDelay          time.Duration `json:"minFetchDelay,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	MaxWorkers             int           `json:"maxWorkers,omitempty"`
	ParserProcesses        int           `json:"parserProcesses,omitempty"`
	ParserGoroutines       int           `json:"parserGoroutines,omitempty"`
	Timeout                time.Duration `json:"timeout,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	RedisHost              string        `json:"redisHost,omitempty"`
	RedisPort              int           `json:"redisPort,omitempty"`
	RedisDB                int           `json:"redisDb,omitempty"`
	RedisPassword          string        `json:"redisPassword,omitempty"`
	MetricsPort            int           `json:"metricsPort,omitempty"`
	MetricsInterval        time.Duration `json:"metricsInterval,omitempty"`
	AllowedHosts           []string      `json:"allowedHosts,omitempty"`
	AllowAllHosts          bool          `json:"allowAllHosts,omitempty"`
	DryRun                 bool          `json:"dryRun,omitempty"`
	ShutdownGracePeriod    time.Duration `json:"shutdownGracePeriod,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedFile).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.DataDir != "" {
		cfg.dataDir = dto.DataDir
	}
	if dto.Email != "" {
		cfg.email = dto.Email
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.MinFetchDelay != 0 {
		cfg.minFetchDelay = dto.MinFetchDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxWorkers != 0 {
		cfg.maxWorkers = dto.MaxWorkers
	}
	if dto.ParserProcesses != 0 {
		cfg.parserProcesses = dto.ParserProcesses
	}
	if dto.ParserGoroutines != 0 {
		cfg.parserGoroutines = dto.ParserGoroutines
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.RedisHost != "" {
		cfg.redisHost = dto.RedisHost
	}
	if dto.RedisPort != 0 {
		cfg.redisPort = dto.RedisPort
	}
	if dto.RedisDB != 0 {
		cfg.redisDB = dto.RedisDB
	}
	if dto.RedisPassword != "" {
		cfg.redisPassword = dto.RedisPassword
	}
	if dto.MetricsPort != 0 {
		cfg.metricsPort = dto.MetricsPort
	}
	if dto.MetricsInterval != 0 {
		cfg.metricsInterval = dto.MetricsInterval
	}
	if len(dto.AllowedHosts) > 0 {
		cfg.allowedHosts = dto.AllowedHosts
	}
	cfg.allowAllHosts = dto.AllowAllHosts
	cfg.dryRun = dto.DryRun
	if dto.ShutdownGracePeriod != 0 {
		cfg.shutdownGracePeriod = dto.ShutdownGracePeriod
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided seed file path and
// default values for all other fields. seedFile is mandatory and must
// not be empty - an error will be returned if it is.
func WithDefault(seedFile string) *Config {
	defaultConfig := Config{
		seedFile:               seedFile,
		dataDir:                "data",
		email:                  "",
		userAgent:              "",
		minFetchDelay:          time.Second,
		jitter:                 time.Millisecond * 500,
		randomSeed:             time.Now().UnixNano(),
		maxWorkers:             500,
		parserProcesses:        2,
		parserGoroutines:       80,
		timeout:                time.Second * 10,
		maxAttempt:             5,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		redisHost:              "localhost",
		redisPort:              6379,
		redisDB:                0,
		redisPassword:          "",
		metricsPort:            9090,
		metricsInterval:        60 * time.Second,
		dryRun:                 false,
		shutdownGracePeriod:    10 * time.Second,
	}
	return &defaultConfig
}

func (c *Config) WithSeedFile(path string) *Config {
	c.seedFile = path
	return c
}

func (c *Config) WithDataDir(dir string) *Config {
	c.dataDir = dir
	return c
}

func (c *Config) WithEmail(email string) *Config {
	c.email = email
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithMinFetchDelay(delay time.Duration) *Config {
	c.minFetchDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxWorkers(workers int) *Config {
	c.maxWorkers = workers
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithParserProcesses(n int) *Config {
	c.parserProcesses = n
	return c
}

func (c *Config) WithParserGoroutines(n int) *Config {
	c.parserGoroutines = n
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithRedisHost(host string) *Config {
	c.redisHost = host
	return c
}

func (c *Config) WithRedisPort(port int) *Config {
	c.redisPort = port
	return c
}

func (c *Config) WithRedisDB(db int) *Config {
	c.redisDB = db
	return c
}

func (c *Config) WithRedisPassword(password string) *Config {
	c.redisPassword = password
	return c
}

func (c *Config) WithMetricsPort(port int) *Config {
	c.metricsPort = port
	return c
}

func (c *Config) WithMetricsInterval(d time.Duration) *Config {
	c.metricsInterval = d
	return c
}

func (c *Config) WithAllowedHosts(hosts []string) *Config {
	c.allowedHosts = hosts
	return c
}

func (c *Config) WithAllowAllHosts(allowAll bool) *Config {
	c.allowAllHosts = allowAll
	return c
}

func (c *Config) WithDryRun(dryRun bool) *Config {
	c.dryRun = dryRun
	return c
}

func (c *Config) WithShutdownGracePeriod(d time.Duration) *Config {
	c.shutdownGracePeriod = d
	return c
}

func (c *Config) Build() (Config, error) {
	if c.seedFile == "" {
		return Config{}, fmt.Errorf("%w: seedFile cannot be empty", ErrInvalidConfig)
	}
	if c.userAgent == "" {
		if c.email != "" {
			c.userAgent = fmt.Sprintf("polite-crawler/1.0 (+mailto:%s)", c.email)
		} else {
			c.userAgent = "polite-crawler/1.0"
		}
	}
	return *c, nil
}

func (c Config) SeedFile() string {
	return c.seedFile
}

func (c Config) DataDir() string {
	return c.dataDir
}

func (c Config) Email() string {
	return c.email
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) MinFetchDelay() time.Duration {
	return c.minFetchDelay
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) MaxWorkers() int {
	return c.maxWorkers
}

func (c Config) ParserProcesses() int {
	return c.parserProcesses
}

func (c Config) ParserGoroutines() int {
	return c.parserGoroutines
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) DryRun() bool {
	return c.dryRun
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) RedisHost() string {
	return c.redisHost
}

func (c Config) RedisPort() int {
	return c.redisPort
}

func (c Config) RedisDB() int {
	return c.redisDB
}

func (c Config) RedisPassword() string {
	return c.redisPassword
}

func (c Config) MetricsPort() int {
	return c.metricsPort
}

func (c Config) MetricsInterval() time.Duration {
	return c.metricsInterval
}

func (c Config) AllowedHosts() []string {
	return c.allowedHosts
}

func (c Config) AllowAllHosts() bool {
	return c.allowAllHosts
}

func (c Config) ShutdownGracePeriod() time.Duration {
	return c.shutdownGracePeriod
}
