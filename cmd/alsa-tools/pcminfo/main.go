// Command pcminfo reports the hardware parameters of an ALSA PCM device,
// and optionally cross-references them against a crasd card-config INI
// (internal/cardconfig) so an operator can see what volume curve crasd
// would apply to this card's nodes alongside the raw hardware capability
// dump.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/alsa"

	"github.com/gen2brain/crasd/internal/cardconfig"
	"github.com/gen2brain/crasd/internal/volume"
)

func main() {
	var (
		card       int
		device     int
		stream     string
		configPath string
	)

	flag.IntVar(&card, "card", 0, "The sound card number.")
	flag.IntVar(&device, "device", 0, "The device number.")
	flag.StringVar(&stream, "stream", "playback", "The stream direction ('playback' or 'capture').")
	flag.StringVar(&configPath, "card-config", "", "Optional crasd card-config INI to report alongside the hardware params.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays information about an ALSA PCM device.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	var pcmFlags alsa.PcmFlag
	switch strings.ToLower(stream) {
	case "playback":
		pcmFlags = alsa.PCM_OUT
	case "capture":
		pcmFlags = alsa.PCM_IN
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid stream direction '%s'. Must be 'playback' or 'capture'.\n", stream)
		os.Exit(1)
	}

	fmt.Printf("PCM card %d, device %d, stream %s:\n", card, device, stream)

	// Get the hardware parameters for the specified PCM device.
	// This is the core call to the alsa library to query capabilities.
	params, err := alsa.PcmParamsGet(uint(card), uint(device), pcmFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting PCM parameters: %v\n", err)
		os.Exit(1)
	}
	// Ensure that the allocated resources for the parameters are freed when the function exits.
	defer params.Free()

	// The PcmParams object has a String() method that conveniently formats
	// all the capabilities into a human-readable string, which we print here.
	fmt.Println(params)

	if configPath != "" {
		printCardConfig(configPath)
	}
}

// printCardConfig reports, for every node section in a crasd card-config
// INI, the linear scalar the volume curve resolves to at the 0/50/100
// steps — the same computation internal/mixer applies during a service
// cycle, surfaced here for bring-up debugging before crasd itself is
// running against the card.
func printCardConfig(path string) {
	cfg, err := cardconfig.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading card config %s: %v\n", path, err)
		return
	}

	fmt.Printf("\nCard config %s (%d node sections):\n", path, len(cfg.Sections))
	for _, section := range cfg.Sections {
		curve := section.Curve.Curve()
		fmt.Printf("  [%s] %s: step0=%.4f step50=%.4f step100=%.4f\n",
			section.Name, section.Curve.Kind,
			curve.Scalar(0), curve.Scalar(volume.Steps/2), curve.Scalar(volume.Steps-1))
	}
}
