// Command blues is a novelty ICMP-backed network block device: a recon
// scanner that discovers well-behaved echo responders on the public
// Internet, and a block-storage engine that replicates block data across
// groups of those responders by encoding it in echo payloads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/Ghost-Zephyr/blues/internal/blockdev"
	"github.com/Ghost-Zephyr/blues/internal/catalog"
	"github.com/Ghost-Zephyr/blues/internal/config"
	"github.com/Ghost-Zephyr/blues/internal/pingstore"
	"github.com/Ghost-Zephyr/blues/internal/progress"
	"github.com/Ghost-Zephyr/blues/internal/scanner"
)

var (
	threads = pflag.Int("threads", runtime.NumCPU(), "Worker threads for the scan driver and store.")
	file    = pflag.String("file", "ips.json", "Catalog file to load and save.")
	verbose = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
)

func main() {
	pflag.Parse()
	setupLogging(*verbose)
	if *threads > 0 {
		runtime.GOMAXPROCS(*threads)
	}

	args := pflag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: blues [flags] <recon|nbd> [subcommand flags]")
		pflag.Usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "recon":
		err = runRecon(args[1:])
	case "nbd":
		err = runNBD(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		os.Exit(1)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}

func runRecon(args []string) error {
	fs := pflag.NewFlagSet("recon", pflag.ExitOnError)
	throttle := fs.Int("throttle", 150, "Minimum milliseconds between issued probes.")
	parallel := fs.Int("parallel", 420, "Maximum outstanding probe tasks.")
	timeout := fs.Duration("timeout", 7000*time.Millisecond, "Per-probe echo socket send/recv timeout. Zero disables it.")
	limit := fs.Int("limit", 0, "Total probes to issue. Zero is unbounded.")
	rnd := fs.Bool("rand", true, "Randomize traversal order (the only supported order).")
	useTUI := fs.Bool("tui", isatty.IsTerminal(os.Stdout.Fd()), "Show a live progress display.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.New(*threads, *timeout)
	s := scanner.Load(*file, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := scanner.Options{
		ThrottleMS: *throttle,
		Parallel:   *parallel,
		Limit:      *limit,
		Rand:       *rnd,
	}

	var prog *tea.Program
	if *useTUI {
		ch := make(chan scanner.Snapshot, 64)
		opts.Progress = progress.Feed(ch)
		model := progress.New(ch, *limit)
		prog = tea.NewProgram(model)
		go func() {
			if _, err := prog.Run(); err != nil {
				slog.Error("progress display exited with error", "error", err)
			}
		}()
		defer close(ch)
	}

	if err := s.MassScan(ctx, opts); err != nil {
		return fmt.Errorf("mass scan: %w", err)
	}

	if prog != nil {
		prog.Quit()
	}

	c := catalog.FromScanner(s)
	if err := c.Save(*file); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	slog.Info("recon complete", "live", c.Len(), "file", *file)
	return nil
}

func runNBD(args []string) error {
	fs := pflag.NewFlagSet("nbd", pflag.ExitOnError)
	device := fs.String("device", "/dev/nbd0", "OS NBD device node to attach (unused: see self-test note).")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slog.Warn("attaching to an OS block device is outside this program's scope; running self-test instead", "device", *device)

	cfg := config.New(*threads, 0)
	c := catalog.Load(*file)
	store, err := pingstore.New(c, cfg)
	if err != nil {
		return fmt.Errorf("initializing ping store: %w", err)
	}
	defer store.Close()

	slog.Info("ping store ready", "size_bytes", store.Size())

	var dev blockdev.Device = store
	return blockdev.SelfTest(dev)
}
