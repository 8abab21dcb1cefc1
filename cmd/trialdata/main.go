// Package main is the trialdata command.
//
// trialdata distributes example clinical-trial datasets: one reference study
// ships inside the binary, additional studies are downloaded from a release
// store into a local cache, and every bundled or cached study folder is
// locked against accidental modification.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/trialverse/trialdata/internal/bundled"
	"github.com/trialverse/trialdata/internal/catalog"
	"github.com/trialverse/trialdata/internal/config"
	"github.com/trialverse/trialdata/internal/lockfs"
	"github.com/trialverse/trialdata/internal/release"
	"github.com/trialverse/trialdata/internal/studycache"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "trialdata: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: trialdata [flags] <command> [args]

Commands:
  list                 List studies published in the release store
  sources              List bundled and cached studies on this machine
  download <source>    Download a study into the local cache
  lock <path>          Lock a study folder against writes
  unlock <path>        Unlock a study folder
  status <path>        Show the lock state of a study folder
  watch                Warn when another process modifies a locked folder
  connector <source>   Print the connector configuration for a study
  schema               Print the JSON schema of metadata.json

Flags:
`)
	flag.PrintDefaults()
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	configPath := flag.String("config", defaultConfigPath(), "Path to the YAML config file")
	maxBPS := flag.Int64("max-bps", 0, "Download bandwidth cap in bytes per second (0 = config value)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	ll := &slog.LevelVar{}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *maxBPS != 0 {
		cfg.MaxBytesPerSecond = *maxBPS
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "list":
		return a.cmdList(ctx, args)
	case "sources":
		return a.cmdSources(args)
	case "download":
		return a.cmdDownload(ctx, args)
	case "lock":
		return a.cmdLock(args)
	case "unlock":
		return a.cmdUnlock(args)
	case "status":
		return a.cmdStatus(args)
	case "watch":
		return a.cmdWatch(ctx, args)
	case "connector":
		return a.cmdConnector(args)
	case "schema":
		return cmdSchema(args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func defaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "trialdata", "config.yaml")
}

// app wires the registry, the release catalog and the accessor once per run.
type app struct {
	cfg         *config.Config
	cacheRoot   string
	bundledRoot string
	locks       *lockfs.Registry
	catalog     release.Catalog
	accessor    *catalog.Accessor
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	cacheRoot := cfg.CacheDir
	if cacheRoot == "" {
		var err error
		if cacheRoot, err = studycache.DefaultRoot(); err != nil {
			return nil, fmt.Errorf("resolve cache directory: %w", err)
		}
	}
	bundledRoot := cfg.BundledDir
	if bundledRoot == "" {
		var err error
		if bundledRoot, err = bundled.DefaultRoot(); err != nil {
			return nil, fmt.Errorf("resolve bundled data directory: %w", err)
		}
	}
	if _, err := bundled.Materialize(bundledRoot); err != nil {
		return nil, err
	}

	locks := lockfs.NewRegistry(cacheRoot)
	locks.Seed(bundledRoot, cacheRoot)

	cat, err := newCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:         cfg,
		cacheRoot:   cacheRoot,
		bundledRoot: bundledRoot,
		locks:       locks,
		catalog:     cat,
		accessor:    &catalog.Accessor{BundledRoot: bundledRoot, CacheRoot: cacheRoot, Locks: locks},
	}, nil
}

func newCatalog(ctx context.Context, cfg *config.Config) (release.Catalog, error) {
	if cfg.S3.Bucket != "" {
		return release.NewS3Catalog(ctx, release.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	}
	var tokens release.TokenSource
	switch {
	case cfg.AppKeyFile != "":
		pemData, err := os.ReadFile(cfg.AppKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read app key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
		if err != nil {
			return nil, fmt.Errorf("parse app key: %w", err)
		}
		tokens = release.NewAppAuth(cfg.AppID, cfg.AppInstallationID, key)
	case cfg.Token != "":
		tokens = release.StaticToken(cfg.Token)
	}
	return release.NewClient(tokens, cfg.MaxBytesPerSecond), nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	repo := fs.String("repo", a.cfg.Repo, "Release repository (owner/name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap, err := catalog.ListAvailable(ctx, a.catalog, *repo, a.cacheRoot)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tVERSION\tSIZE_MB\tCACHED")
	for _, e := range snap {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%t\n", e.Source, e.Version, e.SizeMB, e.Cached)
	}
	return w.Flush()
}

func (a *app) cmdSources(args []string) error {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sources, err := a.accessor.ListSources()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tORIGIN\tLOCKED\tDESCRIPTION")
	for _, s := range sources {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Source, s.Origin, s.Locked, s.Description)
	}
	return w.Flush()
}

func (a *app) cmdDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	version := fs.String("version", release.LatestTag, "Release tag to download")
	force := fs.Bool("force", false, "Re-download even when a cached copy exists")
	repo := fs.String("repo", a.cfg.Repo, "Release repository (owner/name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trialdata download [flags] <source>")
	}
	d := &studycache.Downloader{Catalog: a.catalog, Locks: a.locks, Root: a.cacheRoot}
	path, err := d.Download(ctx, *repo, fs.Arg(0), studycache.DownloadOptions{
		Version: *version,
		Force:   *force,
	})
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func (a *app) cmdLock(args []string) error {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	reason := fs.String("reason", "manual", "Reason recorded with the lock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trialdata lock [flags] <path>")
	}
	if !a.locks.Lock(fs.Arg(0), *reason) {
		return fmt.Errorf("cannot lock %s", fs.Arg(0))
	}
	return nil
}

func (a *app) cmdUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trialdata unlock <path>")
	}
	a.locks.Unlock(fs.Arg(0))
	return nil
}

func (a *app) cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trialdata status <path>")
	}
	st := a.locks.Status(fs.Arg(0))
	if st.Locked {
		fmt.Printf("%s: locked (%s)\n", st.Path, st.Reason)
	} else {
		fmt.Printf("%s: unlocked\n", st.Path)
	}
	return nil
}

// cmdWatch holds the process open and warns whenever another process writes
// to a locked study folder. The in-process lock cannot stop outside writers;
// this surfaces them.
func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	w, err := lockfs.NewWatcher(ctx, a.locks)
	if err != nil {
		return err
	}
	watched, err := w.WatchLocked()
	if err != nil {
		return err
	}
	if len(watched) == 0 {
		return errors.New("no locked study folders to watch")
	}
	slog.Info("Watching locked study folders", "count", len(watched))
	<-ctx.Done()
	return ctx.Err()
}

func (a *app) cmdConnector(args []string) error {
	fs := flag.NewFlagSet("connector", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trialdata connector <source>")
	}
	cfg, err := a.accessor.ConnectorConfig(fs.Arg(0))
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func cmdSchema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	out, err := catalog.MetadataSchema()
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printVersion() {
	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
		if version == "" || version == "(devel)" {
			version = "dev"
		}
	}
	fmt.Printf("trialdata %s\n", version)
}
