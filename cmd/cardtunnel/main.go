// Command cardtunnel is the firmware entrypoint: it wires the card-facing
// UART, the reset-line GPIO, and the USB host-control byte pipe into a
// supervisor.Supervisor and runs it until interrupted.
//
// Grounded on main() in original_source/pico-tunnel/pico_poc.c, with the
// bare-metal peripheral setup (uart_init, gpio_set_function,
// clock_configure_gpin) replaced by periph.io/x/host/v3 device discovery
// and the serialline/tarm.go backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/cardtunnel/relay/diagnostics"
	"github.com/cardtunnel/relay/gpioreset"
	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/serialline"
	"github.com/cardtunnel/relay/supervisor"
)

// nominalClockHz is the card clock assumed absent a measured or
// host-configured value: the standard 3,571,200 Hz default.
const nominalClockHz = 3571200

func main() {
	hostDevice := flag.String("host-device", "/dev/ttyACM0", "USB control-channel byte pipe to the host impersonator")
	cardDevice := flag.String("card-device", "/dev/ttyUSB0", "card-facing UART device")
	resetPin := flag.String("reset-pin", "GPIO18", "periph.io GPIO pin name for the reset line")
	nad := flag.Uint("nad", 0x00, "T=1 node address this device answers to")
	logLevel := flag.String("log-level", "debug", "log level: info, debug, or trace")
	diagAddr := flag.String("diagnostics-addr", "localhost:6969", "address for the debugcharts diagnostics endpoint (only started at -log-level=debug or trace)")
	flag.Parse()

	logx.SetLevel(parseLevel(*logLevel))

	if _, err := host.Init(); err != nil {
		fatal("host.Init: %v", err)
	}
	if _, err := driverreg.Init(); err != nil {
		fatal("driverreg.Init: %v", err)
	}

	hostPipe, err := os.OpenFile(*hostDevice, os.O_RDWR, 0)
	if err != nil {
		fatal("open host device %s: %v", *hostDevice, err)
	}
	defer hostPipe.Close()

	cardLine, err := serialline.OpenTarm(*cardDevice, 9600)
	if err != nil {
		fatal("open card device %s: %v", *cardDevice, err)
	}
	defer cardLine.Close()

	pin := gpioreg.ByName(*resetPin)
	if pin == nil {
		fatal("no such GPIO pin: %s", *resetPin)
	}
	resetLine, err := gpioreset.OpenPeriph(pin)
	if err != nil {
		fatal("configure reset pin: %v", err)
	}

	sup := supervisor.New(hostPipe, resetLine, cardLine, byte(*nad), nominalClockHz)
	logx.SetSink(func(_ logx.Level, line string) {
		_ = sup.Channel().SendDebug(line)
	})

	diag := diagnostics.StartIfVerbose(*diagAddr)
	defer func() {
		if diag != nil {
			_ = diag.Stop(context.Background())
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		fatal("supervisor exited: %v", err)
	}
}

func parseLevel(s string) logx.Level {
	switch s {
	case "trace":
		return logx.LevelTrace
	case "info":
		return logx.LevelInfo
	default:
		return logx.LevelDebug
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cardtunnel: "+format+"\n", args...)
	os.Exit(1)
}
