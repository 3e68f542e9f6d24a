package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"layerpaper/internal/buffer"
	"layerpaper/internal/config"
	"layerpaper/internal/hyprland"
	"layerpaper/internal/ipc"
	"layerpaper/internal/manager"
	"layerpaper/internal/matcher"
	"layerpaper/internal/wl"
	"layerpaper/internal/wl/headless"
)

var version = "0.1.0"

var (
	ErrNoDisplay      = errors.New("no display connection")
	ErrAlreadyRunning = errors.New("another instance is running")
)

const lockName = ".layerpaper.lock"

type daemonFlags struct {
	config       string
	verbose      bool
	noFractional bool
	cpu          bool
	headless     []string
	snapshotDir  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("Error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f daemonFlags

	rootCmd := &cobra.Command{
		Use:           "layerpaper",
		Short:         "Wallpaper daemon for layer-shell compositors",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(f.verbose)
			return runDaemon(cmd.Context(), f)
		},
	}

	rootCmd.Flags().StringVarP(&f.config, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/layerpaper/layerpaper.toml)")
	rootCmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&f.noFractional, "no-fractional", false, "Ignore fractional scale and viewporter")
	rootCmd.Flags().BoolVar(&f.cpu, "cpu", false, "Render into shm buffers only")
	rootCmd.Flags().StringArrayVar(&f.headless, "headless", nil, "Run against a virtual output NAME:WxH[@scale] (repeatable)")
	rootCmd.Flags().StringVar(&f.snapshotDir, "snapshot-dir", "", "Write every presented headless frame as PNG into this directory")

	rootCmd.AddCommand(createWallpaperCmd(ipc.CmdWallpaper, "Set the wallpaper of a monitor"))
	rootCmd.AddCommand(createWallpaperCmd(ipc.CmdReload, "Set the wallpaper of a monitor and unload unused images"))
	rootCmd.AddCommand(createPathCmd(ipc.CmdPreload, "Decode an image ahead of use"))
	rootCmd.AddCommand(createPathCmd(ipc.CmdUnload, "Drop a decoded image (a path, all or unused)"))
	rootCmd.AddCommand(createListCmd(ipc.CmdListLoaded, "List decoded images"))
	rootCmd.AddCommand(createListCmd(ipc.CmdListActive, "List the wallpaper of every monitor"))

	return rootCmd
}

func setupLogging(verbose bool) {
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.TimeOnly)
	log.SetPrefix("layerpaper")
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

func runDaemon(ctx context.Context, f daemonFlags) error {
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		return ipc.ErrNoRuntimeDir
	}

	lock, err := acquireLock(filepath.Join(runtime, lockName))
	if err != nil {
		return err
	}
	defer lock.Close()

	if n, err := buffer.CleanupStale(runtime); err != nil {
		log.Warn("cleaning stale buffer files", "err", err)
	} else if n > 0 {
		log.Debug("removed stale buffer files", "count", n)
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	client, err := connect(f)
	if err != nil {
		return err
	}

	alloc := buffer.NewAllocator(client, buffer.AllocatorOptions{Dir: runtime, DisableGPU: f.cpu})
	m, err := manager.New(client, alloc, manager.Options{
		NoFractionalScale: f.noFractional,
		Splash:            cfg.Splash,
		SplashOffset:      cfg.SplashOffset,
		SplashColor:       cfg.SplashTint(),
		SplashText:        hyprland.Splash,
	})
	if err != nil {
		alloc.Close()
		client.Close()
		return err
	}
	m.AddSettings(settings)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	abort := func(err error) error {
		cancel()
		<-done
		return err
	}

	for _, p := range cfg.Preload {
		if err := m.Preload(ctx, p); err != nil {
			log.Warn("preload failed", "path", p, "err", err)
		}
	}

	if err := config.Watch(f.config, func(c *config.Config, err error) {
		var updated []matcher.Setting
		if err == nil {
			updated, err = c.Settings()
		}
		if err != nil {
			log.Error("config reload rejected", "err", err)
			return
		}
		if err := m.ReplaceSettings(ctx, updated); err != nil {
			log.Error("config reload failed", "err", err)
		}
	}); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("config watch disabled", "err", err)
	}

	if cfg.IPC {
		path, err := ipc.SocketPath()
		if err != nil {
			return abort(err)
		}
		srv, err := ipc.Listen(path, m)
		if err != nil {
			return abort(err)
		}
		defer srv.Close()
		go srv.Serve(ctx)
	}

	go forwardSignals(ctx, m)

	return <-done
}

// forwardSignals turns the user signals into cycle triggers.
func forwardSignals(ctx context.Context, m *manager.Manager) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sigs:
			switch s {
			case syscall.SIGHUP:
				m.Signal(matcher.TriggerSIGHUP)
			case syscall.SIGUSR1:
				m.Signal(matcher.TriggerSIGUSR1)
			case syscall.SIGUSR2:
				m.Signal(matcher.TriggerSIGUSR2)
			}
		}
	}
}

// acquireLock takes an exclusive flock on path. The lock lives as long as the returned file.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is held", ErrAlreadyRunning, path)
		}
		return nil, err
	}
	return f, nil
}

// connect opens the display. Only the in-process backend is linked in; a compositor session without
// --headless has nothing to talk to.
func connect(f daemonFlags) (wl.Client, error) {
	if len(f.headless) == 0 {
		if os.Getenv("WAYLAND_DISPLAY") == "" {
			return nil, fmt.Errorf("%w: WAYLAND_DISPLAY is not set", ErrNoDisplay)
		}
		return nil, fmt.Errorf("%w: no protocol backend for %s, run with --headless", ErrNoDisplay, os.Getenv("WAYLAND_DISPLAY"))
	}

	specs := make([]headless.OutputSpec, 0, len(f.headless))
	for _, s := range f.headless {
		spec, err := parseOutputSpec(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	opts := headless.Options{FractionalScale: !f.noFractional}
	if f.snapshotDir != "" {
		if err := os.MkdirAll(f.snapshotDir, 0755); err != nil {
			return nil, err
		}
		opts.OnCommit = snapshotWriter(f.snapshotDir)
	}

	c := headless.New(opts)
	for _, spec := range specs {
		c.AddOutput(spec)
	}
	log.Info("headless display", "outputs", len(specs))
	return c, nil
}

// parseOutputSpec reads NAME:WxH[@scale].
func parseOutputSpec(s string) (headless.OutputSpec, error) {
	name, geom, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return headless.OutputSpec{}, fmt.Errorf("bad output %q, want NAME:WxH[@scale]", s)
	}
	spec := headless.OutputSpec{Name: name, Description: "Headless " + name, Scale: 1}

	if size, scale, ok := strings.Cut(geom, "@"); ok {
		n, err := strconv.ParseInt(scale, 10, 32)
		if err != nil || n < 1 {
			return headless.OutputSpec{}, fmt.Errorf("bad scale in %q", s)
		}
		spec.Scale = int32(n)
		geom = size
	}

	w, h, ok := strings.Cut(geom, "x")
	width, errW := strconv.ParseInt(w, 10, 32)
	height, errH := strconv.ParseInt(h, 10, 32)
	if !ok || errW != nil || errH != nil || width < 1 || height < 1 {
		return headless.OutputSpec{}, fmt.Errorf("bad size in %q", s)
	}
	spec.Width, spec.Height = int32(width), int32(height)
	return spec, nil
}

func snapshotWriter(dir string) func(string, *image.RGBA) {
	return func(output string, frame *image.RGBA) {
		path := filepath.Join(dir, output+".png")
		file, err := os.Create(path)
		if err != nil {
			log.Warn("writing snapshot", "output", output, "err", err)
			return
		}
		defer file.Close()
		if err := png.Encode(file, frame); err != nil {
			log.Warn("encoding snapshot", "output", output, "err", err)
		}
	}
}
