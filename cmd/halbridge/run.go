package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/sipeed/halbridge/pkg/arguments"
	"github.com/sipeed/halbridge/pkg/bridge"
	"github.com/sipeed/halbridge/pkg/bus"
	"github.com/sipeed/halbridge/pkg/config"
	"github.com/sipeed/halbridge/pkg/device"
	"github.com/sipeed/halbridge/pkg/idle"
	"github.com/sipeed/halbridge/pkg/journal"
	"github.com/sipeed/halbridge/pkg/logger"
	"github.com/sipeed/halbridge/pkg/page"
	"github.com/sipeed/halbridge/pkg/photos"
)

// hostRuntime is one page with its bridge, idle signal and journal.
type hostRuntime struct {
	page    *page.Page
	bridge  *bridge.Bridge
	idle    *idle.Signal
	journal *journal.Store
}

func newHostRuntime(cfg *config.Config, printer page.Printer) (*hostRuntime, error) {
	workspace := cfg.WorkspacePath()

	devices, err := device.New(cfg.Devices.Backend, device.Options{
		FrontCameraID:     cfg.Devices.FrontCameraID,
		BackCameraID:      cfg.Devices.BackCameraID,
		MaxPhotoDimension: cfg.Devices.MaxPhotoDimension,
		TempDir:           filepath.Join(workspace, "tmp"),
		StaticBarcode:     cfg.Devices.StaticBarcode,
		StaticPhotoPath:   cfg.Devices.StaticPhotoPath,
	})
	if err != nil {
		return nil, err
	}

	opts := bridge.Options{
		GlobalName:     cfg.Bridge.GlobalName,
		Devices:        devices,
		Arguments:      arguments.NewStore(cfg.ArgumentsPath(), cfg.Storage.ArgumentsKey),
		ReportFailures: cfg.Bridge.ReportFailures,
		RejectBusy:     cfg.Bridge.RejectBusy,
		CaptureTimeout: cfg.CaptureTimeout(),
	}
	if cfg.Storage.ArchivePhotos {
		opts.Photos = photos.NewStore(workspace)
	}

	rt := &hostRuntime{}
	p, err := page.New(page.Options{
		GlobalName:  cfg.Bridge.GlobalName,
		HandlerName: cfg.Bridge.HandlerName,
		Printer:     printer,
		OnMessage: func(msg bus.InboundMessage) error {
			return rt.bridge.HandleMessage(msg)
		},
	})
	if err != nil {
		return nil, err
	}
	opts.Evaluator = p
	rt.page = p
	rt.bridge = bridge.New(opts)

	if cfg.Storage.JournalEnabled {
		rt.journal = journal.NewStore(workspace, cfg.Storage.JournalMaxDays)
		rt.bridge.OnTrace(rt.journal.Hook())
	}
	if cfg.Idle.Enabled {
		rt.idle = idle.New(cfg.IdlePeriod())
		rt.bridge.AttachIdle(rt.idle)
	}

	logger.InfoCF("host", "Bridge ready", map[string]interface{}{
		"commands":       strings.Join(rt.bridge.Commands(), ","),
		"device_backend": cfg.Devices.Backend,
		"idle_enabled":   cfg.Idle.Enabled,
		"idle_seconds":   cfg.IdlePeriod().Seconds(),
	})
	return rt, nil
}

func (rt *hostRuntime) start() {
	if rt.idle != nil {
		rt.idle.Start()
	}
}

// interact reports user activity to the idle signal.
func (rt *hostRuntime) interact() {
	if rt.idle != nil {
		rt.idle.Reset()
	}
}

func (rt *hostRuntime) close() {
	if rt.idle != nil {
		rt.idle.Stop()
	}
	rt.bridge.Close()
	rt.page.Close()
}

func (rt *hostRuntime) loadFiles(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read page script: %w", err)
		}
		if err := rt.page.Load(filepath.Base(path), string(data)); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		logger.InfoCF("host", "Loaded page script", map[string]interface{}{
			"path": path,
		})
	}
	return nil
}

func runCmd(args []string) error {
	console := true
	var scripts []string
	for _, a := range args {
		switch a {
		case "--no-console":
			console = false
		case "--debug", "-d":
			os.Setenv("HALBRIDGE_DEBUG", "1")
		default:
			scripts = append(scripts, a)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, console); err != nil {
		return err
	}

	rt, err := newHostRuntime(cfg, stdoutPrinter{})
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.loadFiles(scripts); err != nil {
		return err
	}
	rt.start()

	if !console {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		fmt.Printf("%s Page running. Press Ctrl+C to stop.\n", logo)
		<-sigChan
		fmt.Println("\nShutting down...")
		return nil
	}

	interactiveMode(rt)
	return nil
}

func interactiveMode(rt *hostRuntime) {
	fmt.Printf("%s Page console. Type .help for commands.\n\n", logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hal> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".halbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(rt)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleConsoleLine(rt, line) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

func simpleInteractiveMode(rt *hostRuntime) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("hal> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleConsoleLine(rt, line) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

// handleConsoleLine runs one console line and reports whether to continue.
// Every line counts as user interaction.
func handleConsoleLine(rt *hostRuntime, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	rt.interact()

	switch {
	case input == ".exit" || input == ".quit":
		return false
	case input == ".help":
		fmt.Println(".commands           list native commands")
		fmt.Println(".trigger <event>    fire a page event")
		fmt.Println(".load <file>        run a script file in the page")
		fmt.Println(".exit               leave the console")
		fmt.Println("anything else is evaluated as JavaScript in the page")
	case input == ".commands":
		fmt.Println(strings.Join(rt.bridge.Commands(), "\n"))
	case strings.HasPrefix(input, ".trigger "):
		event := strings.TrimSpace(strings.TrimPrefix(input, ".trigger "))
		if err := rt.bridge.Trigger(event); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	case strings.HasPrefix(input, ".load "):
		if err := rt.loadFiles([]string{strings.TrimSpace(strings.TrimPrefix(input, ".load "))}); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	default:
		out, err := rt.page.Run(input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return true
		}
		fmt.Println(out)
	}
	return true
}

type stdoutPrinter struct{}

func (stdoutPrinter) Log(s string)   { fmt.Println(s) }
func (stdoutPrinter) Warn(s string)  { fmt.Fprintln(os.Stderr, s) }
func (stdoutPrinter) Error(s string) { fmt.Fprintln(os.Stderr, s) }
