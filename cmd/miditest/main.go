// Command miditest pokes at MIDI ports and the bridge without the TUI.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tracker-bridge/bridge"
	"tracker-bridge/debug"
	"tracker-bridge/midi"
	"tracker-bridge/params"
)

var (
	logLevel string
	allow    []string
)

func main() {
	root := &cobra.Command{
		Use:           "miditest",
		Short:         "MIDI test scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	root.PersistentFlags().StringSliceVar(&allow, "allow", nil, "device name substrings to prefer (default tracker,polyend)")

	root.AddCommand(listCmd(), detectCmd(), pollCmd(), sendCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connOptions() (midi.Options, error) {
	log, _, err := debug.New(debug.Options{Level: logLevel})
	if err != nil {
		return midi.Options{}, err
	}
	return midi.Options{AllowList: allow, Logger: log}, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all MIDI devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("=== MIDI Devices ===")
			fmt.Println("(waiting up to 3 seconds...)")

			type result struct {
				devices []midi.DeviceInfo
				err     error
			}
			ch := make(chan result, 1)
			go func() {
				d, err := midi.NewRtMIDI().Devices()
				ch <- result{d, err}
			}()

			select {
			case r := <-ch:
				if r.err != nil {
					return r.err
				}
				for i, d := range r.devices {
					fmt.Printf("  %d: %-40s in:%-5v out:%v\n", i, d.Name, d.HasSource, d.HasDestination)
				}
			case <-time.After(3 * time.Second):
				fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
				fmt.Println("Fix: sudo killall coreaudiod midiserver")
			}
			return nil
		},
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run one discovery pass and report the device that would be bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := connOptions()
			if err != nil {
				return err
			}
			m := midi.NewConnectionManager(midi.NewRtMIDI(), opts)
			defer m.Close()

			if err := m.Connect(); err != nil {
				if errors.Is(err, midi.ErrNoDevice) {
					fmt.Println("No usable device found")
					return nil
				}
				return err
			}
			st := m.Status()
			if st.Fallback {
				fmt.Printf("No allow-listed device; fallback would bind %q\n", st.Device)
			} else {
				fmt.Printf("Found %q\n", st.Device)
			}
			return nil
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Follow connection changes and decode inbound messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := connOptions()
			if err != nil {
				return err
			}
			catalog := params.NewCatalog()
			table, err := midi.NewMappingTable(catalog)
			if err != nil {
				return err
			}
			codec := midi.NewCodec(table)

			m := midi.NewConnectionManager(midi.NewRtMIDI(), opts)
			m.OnStateChange(func(st midi.Status) {
				fmt.Printf("[%s] %s %s\n", time.Now().Format("15:04:05"), st.State, st.Device)
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go m.Run(ctx)

			fmt.Println("Connect/disconnect the device to test. Ctrl+C to exit.")
			for {
				select {
				case <-ctx.Done():
					return m.Close()
				case b := <-m.Inbound():
					w, ok := midi.ParseWire(b)
					if !ok {
						fmt.Printf("  % X (unparsed)\n", b)
						continue
					}
					if ev, ok := codec.DecodeWire(w); ok {
						fmt.Printf("  %-24s -> %s = %g\n", w, catalog.MustLookup(ev.Address).Name, ev.Value)
					} else {
						fmt.Printf("  %-24s (unmapped)\n", w)
					}
				}
			}
		},
	}
}

func sendCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <parameter> <value>",
		Short: "Set one parameter through a bridge session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := connOptions()
			if err != nil {
				return err
			}
			v, err := strconv.ParseFloat(args[1], 32)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}

			s, err := bridge.New(bridge.Options{Transport: midi.NewRtMIDI(), Connection: opts, Logger: opts.Logger})
			if err != nil {
				return err
			}
			defer s.Close()

			addr, ok := s.Catalog().ByName(args[0])
			if !ok {
				return fmt.Errorf("unknown parameter %q", args[0])
			}
			if err := s.Connection().Connect(); err != nil {
				return err
			}
			if err := s.Start(cmd.Context()); err != nil {
				return err
			}

			s.SetParameterValue(addr, float32(v))
			w, _ := s.Codec().Encode(addr, s.GetParameterValue(addr))
			fmt.Printf("%s = %g -> %s on %q\n", args[0], s.GetParameterValue(addr), w, s.Stats().Connection.Device)

			time.Sleep(wait)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 100*time.Millisecond, "time to let the batch flush before exiting")
	return cmd
}
