package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	cachesemantics "github.com/always-cache/cache-semantics"
	"github.com/always-cache/cache-semantics/cache"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLI flags
	configFilenameFlag  string
	portFlag            int
	originFlag          string
	hostFlag            string
	providerFlag        string
	dbFilenameFlag      string
	redisAddrFlag       string
	defaultCCFlag       string
	privateFlag         bool
	ignoreCargoCultFlag bool
	verbosityTraceFlag  bool
	logFilenameFlag     string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin for virtual hosting and TLS")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider to use: sqlite, memory or redis")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&redisAddrFlag, "redis", "", "Redis address for the redis provider")
	flag.StringVar(&defaultCCFlag, "default", "", "Default Cache-Control header (overrides config)")
	flag.BoolVar(&privateFlag, "private", false, "Evaluate responses for a private (single-user) cache")
	flag.BoolVar(&ignoreCargoCultFlag, "ignore-cargo-cult", false, "Ignore restrictive directives on responses with pre-check and post-check")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	var config Config
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
	}

	// flags override the config file
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	if redisAddrFlag != "" {
		config.Redis = redisAddrFlag
	}
	if defaultCCFlag != "" {
		config.DefaultCacheControl = defaultCCFlag
	}
	if privateFlag {
		config.PrivateCache = true
	}
	if ignoreCargoCultFlag {
		config.IgnoreCargoCult = true
	}
	if logFilenameFlag != "" {
		config.LogFile = logFilenameFlag
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Provider == "" {
		config.Provider = "sqlite"
	}
	if config.DB == "" {
		config.DB = "cache.db"
	}
	if config.Redis == "" {
		config.Redis = "localhost:6379"
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to a rotated logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if config.LogFile != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}

	handler, err := newHandler(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot set up cache")
	}

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, config.Origin, config.Host)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", config.Port), handler); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// newHandler builds the HTTP surface: the caching reverse proxy plus
// the metrics and health endpoints.
func newHandler(config Config) (http.Handler, error) {
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		return nil, err
	}
	if originURL.Scheme == "" || originURL.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", config.Origin)
	}

	provider, err := newProvider(config)
	if err != nil {
		return nil, err
	}

	mw := cachesemantics.New(cachesemantics.Config{
		Cache:               provider,
		Rules:               config.Rules,
		Methods:             config.Methods,
		PrivateCache:        config.PrivateCache,
		IgnoreCargoCult:     config.IgnoreCargoCult,
		DefaultCacheControl: config.DefaultCacheControl,
		OriginID:            originURL.String(),
	})

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/*", mw.Middleware(newReverseProxy(originURL, config.Host)))
	return r, nil
}

func newProvider(config Config) (cache.Provider, error) {
	switch config.Provider {
	case "sqlite":
		filename := config.DB
		if filename == "memory" {
			filename = ""
		}
		return cache.NewSQLiteCache(filename), nil
	case "memory":
		return cache.NewMemCache(), nil
	case "redis":
		redisCache := cache.NewRedisCache(config.Redis)
		if err := redisCache.Ping(); err != nil {
			return nil, err
		}
		return redisCache, nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", config.Provider)
	}
}

func newReverseProxy(originURL *url.URL, originHost string) *httputil.ReverseProxy {
	host := originURL.Host
	hostHeader := host
	transport := http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = originURL.Scheme
			req.URL.Host = host
			req.Host = hostHeader
		},
		Transport: transport,
	}
}
