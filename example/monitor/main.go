// Command monitor prints every message arriving on a MIDI input port, with
// the time elapsed since the previous message.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leandrodaf/midio/sdk/contracts"
	"github.com/leandrodaf/midio/sdk/midio"
)

func main() {
	device := flag.Int("d", 0, "MIDI input device")
	list := flag.Bool("list", false, "list input ports and exit")
	flag.Parse()

	if err := run(*device, *list); err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		os.Exit(1)
	}
}

func run(device int, list bool) error {
	eng, err := midio.New(
		contracts.WithClientName("midio monitor"),
		contracts.WithLogLevel(contracts.WarnLevel),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	ports, err := eng.Ports(contracts.DirectionInput)
	if err != nil {
		return err
	}
	if list {
		for _, p := range ports {
			fmt.Printf("%d: %s\n", p.Ordinal, p.Name)
		}
		return nil
	}
	if device < 0 || device >= len(ports) {
		return fmt.Errorf("input device %d not found (%d available)", device, len(ports))
	}

	in, err := eng.OpenInput(ports[device])
	if err != nil {
		return err
	}
	defer in.Close()

	err = in.SetCallback(func(ev contracts.Event) {
		if ev.Err != nil {
			fmt.Printf("!! %v\n", ev.Err)
			return
		}
		fmt.Printf("+%-12s % X\n", ev.Message.Delta, ev.Message.Bytes)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Monitoring %q, press Ctrl+C to exit.\n", ports[device].Name)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return nil
}
