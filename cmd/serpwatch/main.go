package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shehryarbajwa/serpwatch/internal/config"
)

const (
	exitOK          = 0
	exitStartup     = 1
	exitInterrupted = 130
)

// CLIConfig holds the command line
type CLIConfig struct {
	ConfigFile string
	EnvFile    string
	OutputFile string
	Args       []string

	// Overrides are applied on top of the loaded config, only for flags
	// that were actually given.
	TasksFile      string
	MaxPages       int
	MaxRetries     int
	Profile        string
	ProxyFile      string
	ProxyRequired  bool
	Backend        string
	Headless       bool
	SessionPerTerm bool
	StatusAddr     string
	LogLevel       string
	Restart        time.Duration

	set map[string]bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cli, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return exitStartup
	}

	cfg, err := config.Load(cli.ConfigFile, envFiles(cli)...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStartup
	}
	cli.apply(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStartup
	}

	// Create context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = execute(ctx, cfg, cli)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "serpwatch: %v\n", err)
		return exitStartup
	}
}

func envFiles(cli *CLIConfig) []string {
	if cli.EnvFile == "" {
		return nil
	}
	return []string{cli.EnvFile}
}

// parseFlags parses command line flags
func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cli := &CLIConfig{}

	fs.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&cli.EnvFile, "env-file", "", "Path to a .env file (default: .env if present)")
	fs.StringVar(&cli.OutputFile, "out", "", "Write the ledger as JSON to this file")
	fs.StringVar(&cli.TasksFile, "tasks", "", "CSV file of term[,term...],keyword rows")
	fs.IntVar(&cli.MaxPages, "max-pages", 0, "Result pages to scan per term")
	fs.IntVar(&cli.MaxRetries, "max-retries", 0, "Session restarts per term")
	fs.StringVar(&cli.Profile, "profile", "", "Search site profile: google or bing")
	fs.StringVar(&cli.ProxyFile, "proxy-file", "", "File with one host:port proxy per line")
	fs.BoolVar(&cli.ProxyRequired, "proxy-required", false, "Refuse to search without a proxy")
	fs.StringVar(&cli.Backend, "browser", "", "Browser backend: playwright or docker")
	fs.BoolVar(&cli.Headless, "headless", true, "Run the browser headless")
	fs.BoolVar(&cli.SessionPerTerm, "session-per-term", false, "Open a fresh browser for every term")
	fs.StringVar(&cli.StatusAddr, "status-addr", "", "Serve the status API on this address")
	fs.StringVar(&cli.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.DurationVar(&cli.Restart, "restart-interval", 0, "Rerun the task list after this pause (0 runs once)")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "serpwatch - search result rank watcher\n\n")
		fmt.Fprintf(out, "Usage:\n")
		fmt.Fprintf(out, "  serpwatch [options] -tasks tasks.csv\n")
		fmt.Fprintf(out, "  serpwatch [options] <term> <keyword> [keyword...]\n\n")
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cli.Args = fs.Args()
	cli.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cli.set[f.Name] = true })
	return cli, nil
}

// apply overrides cfg with the flags that were given
func (c *CLIConfig) apply(cfg *config.Config) {
	if c.set["tasks"] {
		cfg.TasksFile = c.TasksFile
	}
	if c.set["max-pages"] {
		cfg.MaxPages = c.MaxPages
	}
	if c.set["max-retries"] {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.set["profile"] {
		cfg.Search.Profile = c.Profile
	}
	if c.set["proxy-file"] {
		cfg.Proxy.File = c.ProxyFile
	}
	if c.set["proxy-required"] {
		cfg.Proxy.Required = c.ProxyRequired
	}
	if c.set["browser"] {
		cfg.Browser.Backend = c.Backend
	}
	if c.set["headless"] {
		cfg.Browser.Headless = c.Headless
	}
	if c.set["session-per-term"] {
		cfg.SessionPerTerm = c.SessionPerTerm
	}
	if c.set["status-addr"] {
		cfg.StatusAddr = c.StatusAddr
	}
	if c.set["log-level"] {
		cfg.Log.Level = c.LogLevel
	}
	if c.set["restart-interval"] {
		cfg.Cycle.RestartInterval = c.Restart
	}
}
