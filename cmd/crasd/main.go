// Command crasd is the audio server: it owns the engine thread, the device
// list, and the control socket clients connect to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/blocklist"
	"github.com/gen2brain/crasd/internal/cardconfig"
	"github.com/gen2brain/crasd/internal/config"
	"github.com/gen2brain/crasd/internal/control"
	"github.com/gen2brain/crasd/internal/devicelist"
	"github.com/gen2brain/crasd/internal/engine"
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/loopback"
	"github.com/gen2brain/crasd/internal/node"
	"github.com/gen2brain/crasd/internal/wavdump"
)

func main() {
	var (
		configPath   string
		card         uint
		device       uint
		dumpLoopback string
	)
	flag.StringVar(&configPath, "config", "", "Path to the server config file (YAML).")
	flag.UintVar(&card, "card", 0, "ALSA sound card number for the default output device.")
	flag.UintVar(&device, "device", 0, "ALSA PCM device number for the default output device.")
	flag.StringVar(&dumpLoopback, "dump-loopback", "", "Write every mix the loopback tap sees to this WAV file, for offline inspection.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Runs the audio mixing server.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if err := run(log, cfg, card, device, dumpLoopback); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg *config.Config, card, device uint, dumpLoopback string) error {
	bl, err := blocklist.Load(cfg.BlocklistPath)
	if err != nil {
		log.Warn("failed to load device blocklist, proceeding with an empty one", "err", err)
		bl = &blocklist.List{}
	}

	cardConfigs := loadCardConfigs(log, cfg.CardConfigDir)

	devs := devicelist.New(1 << 16)

	outFormat := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}
	empty := iodev.NewEmpty(1, iodev.Output)
	devs.AddDevice(empty)
	if err := empty.Configure(outFormat, cfg.DefaultBufferFrames); err != nil {
		return fmt.Errorf("configure fallback empty output device: %w", err)
	}

	cardName := fmt.Sprintf("hw:%d,%d", card, device)
	// This binary's flags name one card/device directly rather than
	// discovering them (real USB hotplug discovery is out of scope, see
	// DESIGN.md), so there is no vendor/product/checksum tuple to run
	// against the blocklist; it still gates any future discovery loop
	// that learns those identifiers.
	switch {
	case bl.Check(0, 0, 0, int(device)):
		log.Warn("configured device is blocklisted, staying on the empty device", "card", cardName)
	default:
		alsaOut := iodev.NewAlsa(2, cardName, iodev.Output, card, device)
		spk := node.New("Speaker", node.TypeSpeaker)
		if cc, ok := cardConfigs[cardName]; ok {
			if curve, ok := cc.Lookup("Speaker"); ok {
				spk.Curve = curve
			}
		}
		alsaOut.AddNode(spk)

		if err := alsaOut.Configure(outFormat, cfg.DefaultBufferFrames); err != nil {
			log.Warn("default ALSA output unavailable, staying on the empty device", "err", err)
		} else {
			devs.AddDevice(alsaOut)
		}
	}

	tap := loopback.New(3, loopback.VariantPostMixPreDSP, func() iodev.Device {
		return devs.EnabledDevice(iodev.Output)
	})
	devs.OnDisabled(func(d iodev.Device) {
		if d.Direction() == iodev.Output {
			tap.OnSenderDisabled(d.ID(), func(devID, loopbackID uint32) {
				if sender, ok := devs.Device(devID); ok {
					sender.UnregisterLoopbackHook(loopbackID)
				}
			})
		}
	})
	devs.AddDevice(tap)

	if dumpLoopback != "" {
		// The loopback tap always presents as stereo S16_LE regardless of
		// the sender's own format (spec.md 9: loopback devices are
		// "forced to be stereo").
		sink, err := wavdump.Create(dumpLoopback, outFormat)
		if err != nil {
			log.Warn("failed to open loopback dump file, continuing without it", "path", dumpLoopback, "err", err)
		} else {
			tap.DumpTo(sink)
			defer sink.Close()
		}
	}

	eng := engine.New(log, devs)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	go eng.Run(stop)

	srv := control.New(log, cfg.SocketPath, eng)
	log.Info("listening", "socket", cfg.SocketPath)
	return srv.Serve(ctx)
}

// loadCardConfigs reads every *.ini file in dir, one per ALSA card name
// (spec.md 6). A missing or unreadable directory is not fatal: volume
// curves fall back to the node's compiled-in default.
func loadCardConfigs(log *slog.Logger, dir string) map[string]*cardconfig.Config {
	out := make(map[string]*cardconfig.Config)
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("card config directory unavailable", "dir", dir, "err", err)
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cfg, err := cardconfig.Load(path)
		if err != nil {
			log.Warn("failed to parse card config", "path", path, "err", err)
			continue
		}
		name := e.Name()
		out[name[:len(name)-len(filepath.Ext(name))]] = cfg
	}
	return out
}
