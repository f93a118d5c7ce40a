// cmd/tagwatch/oneshot.go
package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/codec"
	"github.com/tamzrod/modbus-tagwatch/internal/config"
	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	pmodbus "github.com/tamzrod/modbus-tagwatch/internal/poller/modbus"
	"github.com/tamzrod/modbus-tagwatch/internal/sink"
	"github.com/tamzrod/modbus-tagwatch/internal/tag"
	"github.com/tamzrod/modbus-tagwatch/internal/writer"
)

// connFlags are the endpoint flags shared by read and write.
type connFlags struct {
	host    string
	port    uint16
	unit    uint8
	timeout time.Duration
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", config.DefaultHost, "controller host")
	cmd.Flags().Uint16Var(&f.port, "port", tag.DefaultPort, "controller TCP port")
	cmd.Flags().Uint8Var(&f.unit, "unit", tag.DefaultUnitID, "Modbus unit id")
	cmd.Flags().DurationVar(&f.timeout, "timeout", tag.DefaultTimeout, "connect and read timeout")
}

func (f *connFlags) descriptor(addr string) tag.Descriptor {
	return tag.Descriptor{
		ID:      addr,
		Address: addr,
		Host:    f.host,
		Port:    f.port,
		UnitID:  f.unit,
		Timeout: f.timeout,
	}.WithDefaults()
}

// ---- read ----

func newReadCmd() *cobra.Command {
	var (
		conn    connFlags
		addr    string
		asJSON  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Run one poll cycle for a single address and print the reading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := zerolog.Nop()
			if verbose {
				logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			}

			p, err := poller.Build(conn.descriptor(addr), logger)
			if err != nil {
				return err
			}
			defer p.Close()

			ev := p.PollOnce()
			if asJSON {
				out, err := json.Marshal(sink.NewTagMessage(ev))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else {
				printReading(cmd, p.Spec(), ev)
			}

			if ev.ConnectionLost() {
				return fmt.Errorf("read %s: %s: %w", addr, ev.Outcome, ev.Err)
			}
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&addr, "address", "", `tag address, "1344" or "6463.2"`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reading as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log retries to stderr")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func printReading(cmd *cobra.Command, spec address.Spec, ev poller.Event) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "address  %s\n", spec)
	fmt.Fprintf(w, "outcome  %s\n", ev.Outcome)
	if ev.HaveFloat {
		fmt.Fprintf(w, "float    %v\n", codec.DisplayFloat(ev.Reading.Float))
	}
	if ev.HaveRegisters {
		fmt.Fprintf(w, "dword    %d (0x%08X)\n", ev.Reading.Dword, ev.Reading.Dword)
		fmt.Fprintf(w, "word     %d\n", ev.Reading.Word)
		fmt.Fprintf(w, "bits     %s\n", ev.Reading.BitString)
	}
}

// ---- write ----

func newWriteCmd() *cobra.Command {
	var (
		conn  connFlags
		addr  string
		value string
		kind  string
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a float, dword or word to a register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := address.Parse(addr)
			if err != nil {
				return err
			}
			if spec.HasBit() {
				return fmt.Errorf("%w: %s", writer.ErrBitAddress, spec)
			}

			do, err := writeOp(kind, value)
			if err != nil {
				return err
			}

			d := conn.descriptor(addr)
			cli, err := pmodbus.New(pmodbus.Config{
				Endpoint: d.Endpoint(),
				UnitID:   d.UnitID,
				Timeout:  d.Timeout,
			})
			if err != nil {
				return err
			}
			defer cli.Close()

			if err := do(writer.New(cli), spec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s %s to %s\n", kind, value, spec)
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&addr, "address", "", "register address")
	cmd.Flags().StringVar(&value, "value", "", "value to write")
	cmd.Flags().StringVar(&kind, "type", "float", "float, dword or word")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

// writeOp parses value for kind before any connection is made.
func writeOp(kind, value string) (func(*writer.Writer, address.Spec) error, error) {
	switch kind {
	case "float":
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", value, err)
		}
		return func(w *writer.Writer, s address.Spec) error { return w.WriteFloat(s, float32(v)) }, nil
	case "dword":
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", value, err)
		}
		return func(w *writer.Writer, s address.Spec) error { return w.WriteDword(s, uint32(v)) }, nil
	case "word":
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", value, err)
		}
		return func(w *writer.Writer, s address.Spec) error { return w.WriteWord(s, uint16(v)) }, nil
	default:
		return nil, fmt.Errorf("unknown type %q: want float, dword or word", kind)
	}
}
