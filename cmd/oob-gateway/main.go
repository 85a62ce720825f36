// Command oob-gateway runs the reference OOB gateway: the HTTP endpoint authenticator
// cores register against, provision tokens from and fetch queued messages through.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"code.aegisid.org/golang/pkg/gateway"
	"code.aegisid.org/golang/pkg/gateway/pgdb"
)

const usageFmt = `
Command Usage: %s [Flags]
  Run the AegisID reference OOB gateway.

Flags:
------
`

// duration parses yaml scalars like "30m" or "72h".
type duration time.Duration

func (self *duration) UnmarshalYAML(node *yaml.Node) error {
	var repr string
	err := node.Decode(&repr)
	if nil != err {
		return err
	}
	d, err := time.ParseDuration(repr)
	if nil != err {
		return fmt.Errorf("invalid duration %q: %w", repr, err)
	}
	*self = duration(d)

	return nil
}

// Config is the yaml daemon configuration.
type Config struct {
	Listen         string   `yaml:"listen"`
	LogLevel       string   `yaml:"log_level"`
	Retention      duration `yaml:"retention"`      // pending message retention
	TokenLifespan  duration `yaml:"token_lifespan"` // granted token max lifespan
	PostgresDSN    string   `yaml:"postgres_dsn"`   // empty selects the in memory store
	PostgresSchema string   `yaml:"postgres_schema"`
}

func defaultConfig() Config {
	return Config{
		Listen:         ":8080",
		LogLevel:       "info",
		Retention:      duration(time.Hour),
		TokenLifespan:  duration(90 * 24 * time.Hour),
		PostgresSchema: "aegisid",
	}
}

func loadConfig(cfgPath string) (Config, error) {
	cfg := defaultConfig()
	if "" == cfgPath {
		return cfg, nil
	}

	buf, err := os.ReadFile(cfgPath)
	if nil != err {
		return cfg, fmt.Errorf("failed reading %s: %w", cfgPath, err)
	}
	err = yaml.Unmarshal(buf, &cfg)
	if nil != err {
		return cfg, fmt.Errorf("failed parsing %s: %w", cfgPath, err)
	}
	if cfg.Retention <= 0 {
		return cfg, fmt.Errorf("invalid retention %s", time.Duration(cfg.Retention))
	}

	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(level))
	if nil != err {
		return nil, fmt.Errorf("invalid log_level %s", level)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func newMessageStore(ctx context.Context, cfg Config) (gateway.MessageStore, error) {
	if "" == cfg.PostgresDSN {
		return gateway.NewMemMessageStore(time.Duration(cfg.Retention))
	}

	return pgdb.NewMessageStore(ctx, cfg.PostgresDSN)
}

func main() {
	progname := os.Args[0]
	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}
	var cfgPath string
	flags.StringVar(&cfgPath, "c", "", "path of the yaml configuration file")
	var migrate bool
	flags.BoolVar(&migrate, "migrate", false, "run the postgres schema migration and exit")
	flags.Parse(os.Args[1:])

	cfg, err := loadConfig(cfgPath)
	if nil != err {
		log.Fatalf("Failed loading configuration, got error %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if nil != err {
		log.Fatalf("Failed logger setup, got error %v", err)
	}

	if migrate {
		if "" == cfg.PostgresDSN {
			log.Fatal("migration requires postgres_dsn")
		}
		pgconn, err := pgx.Connect(context.Background(), cfg.PostgresDSN)
		if nil != err {
			log.Fatalf("Failed postgres connection, got error %v", err)
		}
		err = pgdb.MessageStoreMigrate(pgconn, cfg.PostgresSchema)
		if nil != err {
			log.Fatalf("Failed schema migration, got error %v", err)
		}
		logger.Info("migrated postgres schema", "schema", cfg.PostgresSchema)
		return
	}

	store, err := newMessageStore(context.Background(), cfg)
	if nil != err {
		log.Fatalf("Failed message store setup, got error %v", err)
	}
	srv, err := gateway.NewServer(gateway.ServerConfig{
		Store:         store,
		Log:           logger,
		TokenLifespan: time.Duration(cfg.TokenLifespan),
	})
	if nil != err {
		log.Fatalf("Failed gateway setup, got error %v", err)
	}

	logger.Info("starting OOB gateway", "listen", cfg.Listen, "postgres", "" != cfg.PostgresDSN)
	err = http.ListenAndServe(cfg.Listen, srv.Handler())
	log.Fatalf("gateway stopped, got error %v", err)
}
