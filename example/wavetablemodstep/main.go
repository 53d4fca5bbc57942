// Command wavetablemodstep plays a note and steps through modulation (CC #1)
// values over time, so every wave in a wavetable-based sound can be heard in
// succession. Optionally sends CC #70 first to select the wavetable of the
// current sound on a Waldorf Microwave II/XT(k).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/leandrodaf/midio/sdk/contracts"
	"github.com/leandrodaf/midio/sdk/midio"
)

func main() {
	channel := flag.Int("c", 1, "MIDI channel (1-based)")
	device := flag.Int("d", 0, "MIDI output device")
	length := flag.Duration("l", 300*time.Millisecond, "length of each wave")
	note := flag.Int("n", 60, "MIDI note number to play")
	wavetable := flag.Int("w", 0, "wavetable number (1-based, 0: do not set)")
	flag.Parse()

	if err := run(*channel, *device, *length, *note, *wavetable); err != nil {
		fmt.Fprintln(os.Stderr, "wavetablemodstep:", err)
		os.Exit(1)
	}
}

func run(channel, device int, length time.Duration, note, wavetable int) error {
	eng, err := midio.New(
		contracts.WithClientName("wavetablemodstep"),
		contracts.WithLogLevel(contracts.WarnLevel),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	ports, err := eng.Ports(contracts.DirectionOutput)
	if err != nil {
		return err
	}
	if device < 0 || device >= len(ports) {
		return fmt.Errorf("output device %d not found (%d available)", device, len(ports))
	}

	out, err := eng.OpenOutput(ports[device])
	if err != nil {
		return err
	}
	defer out.Close()

	ch := byte(channel - 1)

	if wavetable > 0 {
		if err := out.ControlChange(ch, 70, byte(wavetable-1)); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := out.ControlChange(ch, 121, 0); err != nil {
		return err
	}
	if err := playStepping(out, ch, byte(note), length); err != nil {
		return err
	}
	return out.ControlChange(ch, 121, 0)
}

// playStepping holds the note while sweeping the modulation controller.
func playStepping(out contracts.Output, ch, note byte, dur time.Duration) error {
	const step = 2

	if err := out.NoteOn(ch, note, 64); err != nil {
		return err
	}
	for v := 0; v < 128; v += step {
		if err := out.ControlChange(ch, 1, byte(v)); err != nil {
			return err
		}
		time.Sleep(dur)
	}
	return out.NoteOff(ch, note, 64)
}
