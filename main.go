package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tracker-bridge/bridge"
	"tracker-bridge/config"
	"tracker-bridge/debug"
	"tracker-bridge/hostapi"
	"tracker-bridge/midi"
	"tracker-bridge/theme"
	"tracker-bridge/tui"
)

var (
	configPath string
	virtual    bool
)

func main() {
	root := &cobra.Command{
		Use:           "tracker-bridge",
		Short:         "Bridge host parameters to a MIDI tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/tracker-bridge/config.yaml)")
	root.PersistentFlags().BoolVar(&virtual, "virtual", false, "use an in-memory device instead of real MIDI ports")

	root.AddCommand(runCmd(), serveCmd(), portsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newTransport() midi.Transport {
	if virtual {
		return midi.NewLoopback("Polyend Tracker (virtual)")
	}
	return midi.NewRtMIDI()
}

// setup loads config and builds the logger and a session. With logToFile an
// unset log file becomes the default debug log.
func setup(logToFile bool) (*config.Config, *bridge.Session, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logOpts := debug.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON}
	if logToFile && logOpts.File == "" {
		logOpts.File = "default"
	}
	log, closer, err := debug.New(logOpts)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	s, err := bridge.New(bridge.Options{
		Transport:  newTransport(),
		Connection: cfg.ConnectionOptions(),
		Tick:       cfg.Bridge.TickInterval,
		Logger:     log,
	})
	if err != nil {
		closer.Close()
		return nil, nil, nil, nil, err
	}
	return cfg, s, log, closer, nil
}

func runCmd() *cobra.Command {
	var palette string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge with a terminal status view",
		RunE: func(cmd *cobra.Command, args []string) error {
			th := theme.New(nil)
			if palette != "" {
				p, err := theme.LoadGPL(palette)
				if err != nil {
					return err
				}
				th = theme.New(p)
			}

			// The TUI owns the terminal, so logs go to a file
			_, s, _, closer, err := setup(true)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer s.Close()

			if err := s.Start(cmd.Context()); err != nil {
				return err
			}

			p := tea.NewProgram(tui.NewModel(s, th), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&palette, "palette", "", "GIMP palette file for the status view")
	return cmd
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge headless with the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, log, closer, err := setup(false)
			if err != nil {
				return err
			}
			defer closer.Close()
			if listen == "" {
				listen = cfg.HTTP.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := s.Start(ctx); err != nil {
				s.Close()
				return err
			}
			log.Info("bridge running", "session", s.ID, "virtual", virtual)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return hostapi.Serve(gctx, listen, hostapi.NewHandlers(s, log.With("component", "hostapi")))
			})
			g.Go(func() error {
				<-gctx.Done()
				return s.Close()
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address for the control API (overrides config)")
	return cmd
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List MIDI devices and show which one would be bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			transport := newTransport()
			devices, err := transport.Devices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("  %-40s in:%-5v out:%v\n", d.Name, d.HasSource, d.HasDestination)
			}

			opts := cfg.ConnectionOptions()
			opts.Logger = debug.Discard()
			m := midi.NewConnectionManager(transport, opts)
			defer m.Close()

			if err := m.Connect(); err != nil {
				fmt.Printf("\nno device would be bound: %v\n", err)
				return nil
			}
			st := m.Status()
			fmt.Printf("\nwould bind %q (fallback: %v)\n", st.Device, st.Fallback)
			return nil
		},
	}
}
