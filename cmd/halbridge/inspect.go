package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sipeed/halbridge/pkg/arguments"
	"github.com/sipeed/halbridge/pkg/journal"
	"github.com/sipeed/halbridge/pkg/logger"
	"github.com/sipeed/halbridge/pkg/photos"
)

func argsCmd(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := arguments.NewStore(cfg.ArgumentsPath(), cfg.Storage.ArgumentsKey)

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		entries, err := store.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No stored arguments.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s=%s\n", e.Key, e.Value)
		}
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: halbridge args set <key> <value>")
		}
		if err := store.Set(args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", args[1])
	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: halbridge args rm <key>")
		}
		found, err := store.Delete(args[1])
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("No argument named %s\n", args[1])
			return nil
		}
		fmt.Printf("Removed %s\n", args[1])
	default:
		return fmt.Errorf("unknown args command %q (list|set|rm)", sub)
	}
	return nil
}

func journalCmd(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f := journal.Filter{Limit: 20}
	summary := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--summary":
			summary = true
		case "--command", "--outcome", "--reason", "--day", "--id", "--limit":
			if i+1 >= len(args) {
				return fmt.Errorf("%s needs a value", args[i])
			}
			value := args[i+1]
			i++
			switch args[i-1] {
			case "--command":
				f.Command = value
			case "--outcome":
				f.Outcome = value
			case "--reason":
				f.Reason = value
			case "--day":
				f.DayKey = value
			case "--id":
				f.CorrelationID = value
			case "--limit":
				n, err := strconv.Atoi(value)
				if err != nil {
					return fmt.Errorf("invalid --limit: %w", err)
				}
				f.Limit = n
			}
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
	}

	store := journal.NewStore(cfg.WorkspacePath(), cfg.Storage.JournalMaxDays)
	if summary {
		f.Limit = 0
		records := store.Query(f)
		if len(records) == 0 {
			fmt.Println("Journal is empty.")
			return nil
		}
		fmt.Print(journal.FormatSummary(records))
		return nil
	}

	records := store.Query(f)
	if len(records) == 0 {
		fmt.Println("No matching journal records.")
		return nil
	}
	for _, r := range records {
		fmt.Println(journal.FormatRecord(r))
	}
	return nil
}

func photosCmd(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit := 20
	if len(args) > 0 {
		if limit, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
	}

	store := photos.NewStore(cfg.WorkspacePath())
	records := store.List(limit)
	if len(records) == 0 {
		fmt.Println("No archived photos.")
		if !cfg.Storage.ArchivePhotos {
			fmt.Println("Photo archiving is off (storage.archive_photos).")
		}
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  %s  %-5s %dx%d  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.ID, r.Facing, r.Width, r.Height, r.StoredPath)
	}
	return nil
}

func logsCmd(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.LogFilePath()
	if path == "" {
		return fmt.Errorf("file logging is disabled (logging.file_enabled)")
	}

	q := logger.Query{Lines: 50}
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return fmt.Errorf("%s needs a value", args[i])
		}
		value := args[i+1]
		switch args[i] {
		case "--lines", "-n":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid --lines: %w", err)
			}
			q.Lines = n
		case "--level":
			q.MinLevel = strings.ToUpper(value)
		case "--component":
			q.Component = value
		case "--grep":
			q.Keyword = value
		case "--id":
			q.CorrelationID = value
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
		i++
	}

	entries, err := logger.ReadRecent(path, q)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No matching log entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Println(logger.FormatEntry(e))
	}
	return nil
}
