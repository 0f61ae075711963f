// Package main is the entry point of the out-of-process extension host.
//
// The host speaks the extension host protocol on its standard input and
// output. Logs go to standard error, which the main process forwards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/exthost/internal/config"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost/runtime"
	"github.com/dshills/exthost/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	ConfigPath  string
	Kind        string
	LogLevel    string
	ShowVersion bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}
	if opts.ShowVersion {
		fmt.Printf("exthost %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return 0
	}
	kind, err := opts.validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}

	logCfg := logging.DefaultConfig()
	logCfg.Output = os.Stderr
	logCfg.Level = logging.ParseLevel(opts.LogLevel)
	logCfg.JSON = cfg.Logging.JSON
	logger := logging.New(logCfg).WithField("host", kind.String())
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(kind,
		runtime.WithLogger(logger),
		runtime.WithScriptTimeout(cfg.Lua.ExecutionTimeout),
	)
	logger.Info("extension host %s started", version)
	if err := rt.Serve(ctx, stdio{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("serve: %v", err)
		return 1
	}
	return 0
}

// stdio joins the standard streams into one connection.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (stdio) Close() error {
	return errors.Join(os.Stdout.Close(), os.Stdin.Close())
}

var _ io.ReadWriteCloser = stdio{}

// parseArgs parses the command line. Usage and parse errors are written
// to stderr.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("exthost", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.Kind, "kind", "process", "Host kind (process, worker)")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "exthost - extension host\n\n")
		fmt.Fprintf(stderr, "Usage: exthost [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// validate checks the log level and returns the host kind to run. The view
// host lives in the main process and cannot be started on its own.
func (o options) validate() (extension.HostKind, error) {
	switch o.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return 0, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", o.LogLevel)
	}
	kind, ok := extension.ParseHostKind(o.Kind)
	if !ok || kind == extension.HostView {
		return 0, fmt.Errorf("invalid host kind %q (must be process or worker)", o.Kind)
	}
	return kind, nil
}
