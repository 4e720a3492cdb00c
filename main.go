// Command ancd is the ANC engine daemon: it subscribes to the reference and
// error microphone topics, runs the adaptive filter, and publishes the
// resulting anti-noise chunk, with a bench harness and control client for
// operating it without real sensor hardware.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/anclab/ancd/internal/anc"
	"github.com/anclab/ancd/internal/bench"
	"github.com/anclab/ancd/internal/broker"
	"github.com/anclab/ancd/internal/codec"
	"github.com/anclab/ancd/internal/config"
	"github.com/anclab/ancd/internal/ctl"
	"github.com/anclab/ancd/internal/health"
	"github.com/anclab/ancd/internal/shim"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "daemon", "":
			os.Exit(runDaemon(os.Args[2:]))
		case "bench":
			os.Exit(runBench(os.Args[2:]))
		case "status", "reset":
			os.Exit(runControl(os.Args[1], os.Args[2:]))
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "ancd: unknown command %q\n\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
		return
	}
	os.Exit(runDaemon(nil))
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: ancd <command> [flags]

Commands:
  daemon   run the ANC engine (default)
  bench    run the local diagnostic publisher/subscriber harness
  status   query a running daemon's filter counters over the control socket
  reset    zero a running daemon's adaptive filter state

Run "ancd <command> --help" for flags specific to a command.
`)
}

func runDaemon(args []string) int {
	fs := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	configPath := fs.String("config", config.GetConfigPath(), "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ancd: %v\n", err)
		return 1
	}
	cfg.BindFlags(fs)
	fs.ParseErrorsWhitelist.UnknownFlags = false
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	endian := codec.LittleEndian
	if cfg.Endianness == "big" {
		endian = codec.BigEndian
	}
	format := codec.Format{
		BitDepth:     cfg.BitDepth,
		Endian:       endian,
		Normalize:    cfg.Normalize,
		MaxAmplitude: cfg.MaxAmplitude,
	}

	filter := anc.New(anc.Config{
		FilterLength:   cfg.FilterLength,
		Mu:             cfg.Mu,
		LatencySamples: cfg.LatencySamples,
	})

	client := broker.New(broker.Config{
		Host:                 cfg.MQTTBroker,
		Port:                 cfg.MQTTPort,
		MaxReconnectAttempts: cfg.MQTTMaxReconnectAttempts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		slog.Error("ancd: failed to connect to broker", "err", err)
		return 1
	}
	defer client.Shutdown(2 * time.Second)

	topics := shim.Topics{Reference: cfg.TopicRef, Error: cfg.TopicError, Speaker: cfg.TopicSpeaker}
	s := shim.New(format, filter, client, topics, cfg.ChunkSize)
	if err := s.Start(ctx); err != nil {
		slog.Error("ancd: failed to start stream shim", "err", err)
		return 1
	}

	ctlServer := ctl.NewServer(cfg.CtlSocket, ctl.NewHandler(filter))
	if err := ctlServer.Start(); err != nil {
		slog.Warn("ancd: control socket unavailable", "err", err)
	} else {
		defer ctlServer.Stop()
	}

	healthHandler := health.New(health.Checker{
		Name: "broker",
		Check: func(context.Context) error {
			if !client.IsConnected() {
				return fmt.Errorf("not connected")
			}
			return nil
		},
	})

	watcher, err := config.NewWatcher(*configPath, func(reloaded *config.Config) {
		slog.Info("ancd: config reloaded", "log_level", reloaded.LogLevel)
		slog.SetDefault(newLogger(reloaded.LogLevel))
	})
	if err != nil {
		slog.Warn("ancd: config hot-reload unavailable", "err", err)
	} else if err := watcher.Start(); err != nil {
		slog.Warn("ancd: config hot-reload unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		serveHealth(gctx, cfg.HealthAddr, healthHandler)
		return nil
	})

	slog.Info("ancd ready", "broker", cfg.MQTTBroker, "chunk_size", cfg.ChunkSize, "filter_length", cfg.FilterLength)
	select {
	case <-ctx.Done():
		slog.Info("ancd shutting down")
		_ = g.Wait()
		return 0
	case <-client.Disconnected():
		stop()
		_ = g.Wait()
		slog.Error("ancd: broker reconnect attempts exhausted, exiting", "max_attempts", cfg.MQTTMaxReconnectAttempts)
		return 1
	}
}

func runBench(args []string) int {
	fs := pflag.NewFlagSet("bench", pflag.ContinueOnError)
	brokerHost := fs.String("mqtt-broker", "localhost", "MQTT broker hostname")
	port := fs.Int("mqtt-port", 1883, "MQTT broker port")
	mode := fs.String("mode", "tone", "publisher mode: tone or mic")
	device := fs.String("device", "", "capture device name filter (mic mode only)")
	freq := fs.Float64("freq", 440, "tone frequency in Hz (tone mode only)")
	listen := fs.Bool("listen", true, "also subscribe and play back the anti-noise topic")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	format := codec.Format{BitDepth: 16, Endian: codec.LittleEndian, Normalize: true, MaxAmplitude: 32767}
	const (
		chunkSize  = 256
		sampleRate = 16000
	)

	client := broker.New(broker.Config{Host: *brokerHost, Port: *port})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ancd bench: %v\n", err)
		return 1
	}
	defer client.Shutdown(2 * time.Second)

	topics := shim.DefaultTopics()

	if *listen {
		sub, err := bench.NewSubscriber(client, format, sampleRate, topics.Speaker)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ancd bench: %v\n", err)
			return 1
		}
		defer sub.Close()
	}

	switch *mode {
	case "tone":
		p := bench.NewTonePublisher(client, format, chunkSize, topics.Reference, topics.Error)
		if err := p.RunTone(ctx, *freq, sampleRate); err != nil {
			fmt.Fprintf(os.Stderr, "ancd bench: %v\n", err)
			return 1
		}
	case "mic":
		p, err := bench.NewPublisher(client, format, chunkSize, sampleRate, topics.Reference, topics.Error, *device)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ancd bench: %v\n", err)
			return 1
		}
		defer p.Close()
		if err := p.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "ancd bench: %v\n", err)
			return 1
		}
		<-ctx.Done()
	default:
		fmt.Fprintf(os.Stderr, "ancd bench: unknown mode %q\n", *mode)
		return 1
	}
	return 0
}

func runControl(command string, args []string) int {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	socket := fs.String("ctl-socket", "/tmp/ancd.sock", "unix socket path for the control channel")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	client := ctl.NewClient(*socket)
	resp, err := client.SendCommand(command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ancd %s: %v\n", command, err)
		return 1
	}
	fmt.Println(resp)
	return 0
}
