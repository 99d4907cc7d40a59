package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type config struct {
	debug      bool
	listenAddr string

	databasePath string

	redisConn     string
	ruleCacheTTL  time.Duration
	deduperTTL    time.Duration
	scopeLockTTL  time.Duration
	scopeLockWait time.Duration

	maxChainDepth int

	storageConn   string
	failuresTable string
	failuresQueue string
	provision     bool
	reporter      reporterConfig

	auth0Domain   string
	auth0Audience string
	localSecret   string
	jwksCacheTTL  time.Duration
}

type reporterConfig struct {
	workers        int
	buffer         int
	timeout        time.Duration
	handoffTimeout time.Duration
}

func loadConfig() config {
	cfg := config{
		debug:         envBool("DEBUG", false),
		listenAddr:    ":" + envString("FUNCTIONS_CUSTOMHANDLER_PORT", "8080"),
		databasePath:  os.Getenv("DATABASE_PATH"),
		redisConn:     os.Getenv("REDIS_CONNECTION_STRING"),
		ruleCacheTTL:  envDur("RULE_CACHE_TTL", 5*time.Minute),
		deduperTTL:    envDur("DEDUPER_TTL", 24*time.Hour),
		scopeLockTTL:  envDur("SCOPE_LOCK_TTL", 10*time.Second),
		scopeLockWait: envDur("SCOPE_LOCK_WAIT", 2*time.Second),
		maxChainDepth: envInt("AUTOMATION_MAX_DEPTH", 3),
		storageConn:   os.Getenv("STORAGE_CONNECTION_STRING"),
		failuresTable: envString("AUTOMATION_FAILURES_TABLE", "AutomationFailures"),
		failuresQueue: os.Getenv("AUTOMATION_FAILURES_QUEUE"),
		provision:     envBool("AZURE_PROVISION", false),
		reporter: reporterConfig{
			workers:        envInt("FAILURE_REPORT_WORKERS", 4),
			buffer:         envInt("FAILURE_REPORT_BUFFER", 256),
			timeout:        envDur("FAILURE_REPORT_TIMEOUT", 30*time.Second),
			handoffTimeout: envDur("FAILURE_REPORT_HANDOFF_TIMEOUT", 50*time.Millisecond),
		},
		auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
		localSecret:   os.Getenv("LOCAL_AUTH_SHARED_SECRET"),
		jwksCacheTTL:  envDur("JWKS_CACHE_TTL", 15*time.Minute),
	}
	if cfg.databasePath == "" {
		log.Fatal("missing DATABASE_PATH")
	}
	if cfg.localSecret == "" && (cfg.auth0Domain == "" || cfg.auth0Audience == "") {
		log.Fatal("missing Auth0 config")
	}
	if cfg.maxChainDepth <= 0 {
		log.Fatal("invalid AUTOMATION_MAX_DEPTH: must be greater than zero")
	}
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return b
}

// redisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
