// Package main is a line-oriented foldtext client. It opens a document,
// optionally joins a relay and applies commands read from standard input.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/foldtext/internal/collab"
	"github.com/dshills/foldtext/internal/collab/channel"
	"github.com/dshills/foldtext/internal/config"
	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/discovery"
	"github.com/dshills/foldtext/internal/editor"
	"github.com/dshills/foldtext/internal/fold"
	"github.com/dshills/foldtext/internal/theme"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	file       string
	connect    bool
	discover   time.Duration
	logLevel   string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Log.Level))
	logger := cfg.Log.NewLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	text := ""
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		text = string(data)
	}

	th, closeTheme, err := loadTheme(cfg.Editor.Theme, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeTheme()

	sessionOpts := []collab.Option{
		collab.WithConfig(cfg.Collab.SessionConfig()),
		collab.WithDialer(channel.NewWebSocketDialer(cfg.Collab.HandshakeTimeout.Std())),
		collab.WithLogger(logger),
	}
	if cfg.Collab.ClientID != "" {
		sessionOpts = append(sessionOpts, collab.WithClientID(cfg.Collab.ClientID))
	}
	ctl := editor.New(text,
		editor.WithLogger(logger),
		editor.WithTheme(th),
		editor.WithSizeClass(theme.ParseSizeClass(cfg.Editor.SizeClass)),
		editor.WithFoldStrategy(fold.StrategyByName(cfg.Editor.FoldStrategy)),
		editor.WithGuardTimeout(cfg.Editor.GuardTimeout.Std()),
		editor.WithSessionOptions(sessionOpts...),
	)
	ctl.Surfaces().Register("stdout", &printSurface{w: os.Stdout})

	if opts.configPath != "" {
		go watchConfig(ctx, opts.configPath, ctl, level, logger)
	}

	creds := cfg.Collab.Credentials()
	if opts.discover > 0 {
		entry, err := discover(ctx, opts.discover)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		logger.Info("discovered relay", "instance", entry.Instance, "endpoint", entry.Endpoint())
		creds.Endpoint = entry.Endpoint()
		opts.connect = true
	}
	if opts.connect {
		if err := ctl.Connect(ctx, creds); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if !editor.IsRetryable(err) {
				return 1
			}
		}
		go func() {
			if err := ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("session loop ended", "error", err)
			}
		}()
	}

	err = repl(ctx, ctl, os.Stdin, os.Stdout)
	ctl.Disconnect()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// printSurface shows invalidations and pushed selections.
type printSurface struct {
	w io.Writer
}

func (p *printSurface) Invalidate(inv editor.Invalidation) {
	kind := "fold"
	if inv.Text {
		kind = "text"
	}
	fmt.Fprintf(p.w, "~ invalidate %s %s unfolding=%v\n", kind, inv.Range, inv.Unfolding)
}

func (p *printSurface) SetSelection(r *coords.PresentationRange) {
	if r == nil {
		fmt.Fprintln(p.w, "~ selection none")
		return
	}
	fmt.Fprintf(p.w, "~ selection %s\n", r)
}

const help = `commands:
  show                  print the presentation and native text
  select START [END]    move the selection (presentation offsets)
  type START END TEXT   replace a presentation range
  layout                report layout completion
  size regular|compact  change the horizontal size class
  spacing INDEX         block spacing at a presentation offset
  blocks                list blocks
  status                connection state
  quit
`

func repl(ctx context.Context, ctl *editor.Controller, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprint(out, help)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := command(ctl, line, out)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func command(ctl *editor.Controller, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	ints := func(args []string) ([]int, error) {
		out := make([]int, len(args))
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return nil, fmt.Errorf("bad offset %q", a)
			}
			out[i] = n
		}
		return out, nil
	}

	switch fields[0] {
	case "quit", "q":
		return true, nil
	case "help":
		fmt.Fprint(out, help)
	case "show":
		fmt.Fprintf(out, "presentation: %q\nnative:       %q\n", ctl.PresentationText(), ctl.NativeText())
		if sel := ctl.CurrentPresentationSelection(); sel != nil {
			fmt.Fprintf(out, "selection:    %s\n", sel)
		}
	case "select":
		n, err := ints(fields[1:])
		if err != nil || len(n) == 0 || len(n) > 2 {
			return false, errors.New("usage: select START [END]")
		}
		r := coords.PresentationCaret(n[0])
		if len(n) == 2 {
			r = coords.Presentation(n[0], n[1])
		}
		if !ctl.SelectionChanged(&r) {
			fmt.Fprintln(out, "(ignored)")
		}
	case "type":
		if len(fields) < 3 {
			return false, errors.New("usage: type START END TEXT")
		}
		n, err := ints(fields[1:3])
		if err != nil {
			return false, err
		}
		text := strings.Join(fields[3:], " ")
		text = strings.ReplaceAll(text, `\n`, "\n")
		return false, ctl.ReplacePresentation(coords.Presentation(n[0], n[1]), text)
	case "layout":
		fmt.Fprintf(out, "reposition=%v\n", ctl.LayoutCompleted())
	case "size":
		if len(fields) != 2 {
			return false, errors.New("usage: size regular|compact")
		}
		ctl.SetHorizontalSizeClass(theme.ParseSizeClass(fields[1]))
	case "spacing":
		n, err := ints(fields[1:])
		if err != nil || len(n) != 1 {
			return false, errors.New("usage: spacing INDEX")
		}
		sp := ctl.BlockSpacing(n[0])
		fmt.Fprintf(out, "top=%g bottom=%g indent=%g\n", sp.MarginTop, sp.MarginBottom, sp.Indent)
	case "blocks":
		for _, b := range ctl.Blocks() {
			fmt.Fprintf(out, "%s level=%d %s -> %s\n", b.Kind, b.Level, b.Range, ctl.ToPresentation(b.Range))
		}
	case "status":
		fmt.Fprintf(out, "%s, %d outstanding\n", ctl.State(), ctl.Session().Outstanding())
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return false, nil
}

// loadTheme picks the spacing source by extension: .lua scripts or TOML
// tables. An empty path uses the built-in table.
func loadTheme(path string, logger *slog.Logger) (theme.Theme, func(), error) {
	switch {
	case path == "":
		return theme.DefaultTable(), func() {}, nil
	case strings.EqualFold(filepath.Ext(path), ".lua"):
		s, err := theme.LoadScript(path, theme.WithScriptLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		t, err := theme.LoadTable(path)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	}
}

func watchConfig(ctx context.Context, path string, ctl *editor.Controller, level *slog.LevelVar, logger *slog.Logger) {
	w, err := config.NewWatcher(path, config.WithWatchLogger(logger))
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
		return
	}
	_ = w.Run(ctx, func(cfg *config.Config) {
		level.Set(config.ParseLevel(cfg.Log.Level))
		ctl.SetHorizontalSizeClass(theme.ParseSizeClass(cfg.Editor.SizeClass))
	})
}

func discover(ctx context.Context, wait time.Duration) (discovery.Entry, error) {
	bctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	entries, err := discovery.Browse(bctx, discovery.DefaultService)
	if err != nil {
		return discovery.Entry{}, err
	}
	if len(entries) == 0 {
		return discovery.Entry{}, errors.New("no relay found on the local network")
	}
	return entries[0], nil
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.file, "file", "", "Initial document text when not connecting")
	flag.BoolVar(&opts.connect, "connect", false, "Join the document configured under [collab]")
	flag.DurationVar(&opts.discover, "discover", 0, "Browse the local network this long for a relay and connect to it")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "foldtext - folded markup editor core\n\n")
		fmt.Fprintf(os.Stderr, "Usage: foldtext [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  foldtext -file notes.md          Edit a local file's text\n")
		fmt.Fprintf(os.Stderr, "  foldtext -c foldtext.toml -connect\n")
		fmt.Fprintf(os.Stderr, "  foldtext -discover 2s            Join the first relay found\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("foldtext %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}
	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}
	return opts
}
