package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mdsync/internal/app"
	"mdsync/internal/config"
	"mdsync/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "serve":
		err = serveCommand(os.Args[2:])
	case "mcp":
		err = mcpCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("mdsync %s: %v", cmd, err)
	}
}

// timeFlag accepts unix seconds or an ISO timestamp (YYYY-MM-DDTHH:MM:SS, UTC).
type timeFlag struct{ v *int64 }

func (f *timeFlag) String() string {
	if f.v == nil {
		return ""
	}
	return fmt.Sprint(*f.v)
}

func (f *timeFlag) Set(s string) error {
	var n int64
	if _, err := fmt.Sscan(s, &n); err == nil && fmt.Sprint(n) == s {
		f.v = &n
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return fmt.Errorf("want unix seconds or YYYY-MM-DDTHH:MM:SS")
	}
	n = t.Unix()
	f.v = &n
	return nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (default $MDSYNC_CONFIG or ./mdsync.yaml)")
	var start, end timeFlag
	fs.Var(&start, "start", "Range start, unix seconds or YYYY-MM-DDTHH:MM:SS (default: checkpoint minus offset)")
	fs.Var(&end, "end", "Range end, unix seconds or YYYY-MM-DDTHH:MM:SS (default: now)")
	replace := fs.Bool("replace", false, "Delete the provider's staged trips in the range before loading")
	all := fs.Bool("all", false, "Run every configured provider")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: mdsync run [flags] <provider_name>")
		fs.PrintDefaults()
	}

	// flags may come before or after the provider name
	if err := fs.Parse(args); err != nil {
		return err
	}
	var provider string
	if fs.NArg() > 0 {
		provider = fs.Arg(0)
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return err
		}
		if fs.NArg() > 0 {
			return fmt.Errorf("unexpected arguments: %v", fs.Args())
		}
	}
	if provider == "" && !*all {
		fs.Usage()
		return fmt.Errorf("provider_name or -all is required")
	}
	if provider != "" && *all {
		return fmt.Errorf("provider_name and -all are mutually exclusive")
	}

	a, err := app.Open(config.ResolvePath(*cfgPath))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.RunOnce(ctx, provider, service.RunOptions{Start: start.v, End: end.v, Replace: *replace})
}

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (default $MDSYNC_CONFIG or ./mdsync.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.Open(config.ResolvePath(*cfgPath))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Serve(ctx)
}

func mcpCommand(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (default $MDSYNC_CONFIG or ./mdsync.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.Open(config.ResolvePath(*cfgPath))
	if err != nil {
		return err
	}
	defer a.Close()

	return a.ServeMCP()
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file to validate")
	ping := fs.Bool("ping", false, "Also connect to the staging store")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.ResolvePath(*cfgPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d provider(s), %d upload field(s)\n",
		path, len(cfg.Providers), len(cfg.Schema().UploadFields()))

	if *ping {
		a, err := app.Open(path)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Sync.PingStaging(context.Background()); err != nil {
			return fmt.Errorf("staging %s: %w", cfg.Staging.Driver, err)
		}
		fmt.Printf("staging %s reachable\n", cfg.Staging.Driver)
	}
	return nil
}

func printUsage() {
	fmt.Println(`mdsync: incremental MDS trip extraction into a staging store

Usage:
  mdsync run [-config path] [-start t] [-end t] [-replace] <provider_name>
  mdsync run [-config path] -all
  mdsync serve [-config path]      scheduled syncs, config reload, HTTP API
  mdsync mcp [-config path]        MCP server on stdin/stdout
  mdsync validate [-config path] [-ping]`)
}
