package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sipeed/halbridge/pkg/config"
	"github.com/sipeed/halbridge/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const logo = "⛶"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "run":
		err = runCmd(args)
	case "args":
		err = argsCmd(args)
	case "journal":
		err = journalCmd(args)
	case "photos":
		err = photosCmd(args)
	case "logs":
		err = logsCmd(args)
	case "init":
		err = initCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s halbridge - native capability bridge for web content\n\n", logo)
	fmt.Println("Usage: halbridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run [page.js...]  Load page scripts and open the page console")
	fmt.Println("  args              List, set or remove stored arguments")
	fmt.Println("  journal           Show recent bridge commands and outcomes")
	fmt.Println("  photos            List archived photos")
	fmt.Println("  logs              Show recent log entries")
	fmt.Println("  init              Write a default config file")
	fmt.Println("  version           Show version information")
}

func printVersion() {
	fmt.Printf("%s halbridge %s\n", logo, version)
	if gitCommit != "" {
		fmt.Printf("  Git commit: %s\n", gitCommit)
	}
	if buildTime != "" {
		fmt.Printf("  Build time: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func getConfigPath() string {
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging applies the logging section. In quiet mode log lines go only
// to the file sink so they do not interleave with console output.
func setupLogging(cfg *config.Config, quiet bool) error {
	level := cfg.Logging.Level
	if debug := os.Getenv("HALBRIDGE_DEBUG"); debug == "1" || debug == "true" {
		level = "debug"
	}
	opts := logger.Options{
		Level:           level,
		FilePath:        cfg.LogFilePath(),
		RotationEnabled: cfg.Logging.RotationEnabled,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
	}
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	if err := logger.Init(opts); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if quiet && logger.FilePath() != "" {
		logger.SetConsoleOutput(io.Discard)
	}
	return nil
}

func initCmd() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		return nil
	}
	cfg := config.DefaultConfig()
	if err := config.SaveConfig(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspacePath(), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Printf("%s Config written to %s\n", logo, path)
	fmt.Printf("  Workspace: %s\n", cfg.WorkspacePath())
	return nil
}
