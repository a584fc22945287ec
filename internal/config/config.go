package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gpu-sheet-agent/internal/report"
)

type Config struct {
	ServerType string
	ServerName string

	SheetID         string
	CredentialsPath string
	TabUsers        string
	TabProcs        string
	StartRow        int

	SampleInterval time.Duration
	Window         time.Duration

	Timezone string
	Sampler  string
}

func FromEnvAndFlags(args []string) Config {
	fs := flag.NewFlagSet("gpu-sheet-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	hostname, _ := os.Hostname()

	cfg := Config{
		ServerType:      envString("SERVER_TYPE", "internal"),
		ServerName:      envString("SERVER_NAME", hostname),
		SheetID:         os.Getenv("SHEET_ID"),
		CredentialsPath: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		TabUsers:        envString("SHEET_TAB_USERS", "GPU_USERS"),
		TabProcs:        envString("SHEET_TAB_PROCS", "GPU_PROCS"),
		StartRow:        envInt("ROW", 2),
		SampleInterval:  time.Duration(envInt("SAMPLE_INTERVAL_SECONDS", 10)) * time.Second,
		Window:          time.Duration(envInt("WINDOW_SECONDS", 0)) * time.Second,
		Timezone:        envString("TIMEZONE", "Asia/Seoul"),
		Sampler:         envString("SAMPLER", "nvml"),
	}

	fs.StringVar(&cfg.ServerType, "server-type", cfg.ServerType, "Report shape: internal (per-user) or external (per-process)")
	fs.StringVar(&cfg.ServerName, "server-name", cfg.ServerName, "Server name written into each row")
	fs.StringVar(&cfg.SheetID, "sheet-id", cfg.SheetID, "Spreadsheet ID")
	fs.StringVar(&cfg.CredentialsPath, "credentials", cfg.CredentialsPath, "Path to service account JSON")
	fs.StringVar(&cfg.TabUsers, "tab-users", cfg.TabUsers, "Worksheet tab for internal reports")
	fs.StringVar(&cfg.TabProcs, "tab-procs", cfg.TabProcs, "Worksheet tab for external reports")
	fs.IntVar(&cfg.StartRow, "start-row", cfg.StartRow, "First sheet row the report is written to")
	fs.DurationVar(&cfg.SampleInterval, "sample-interval", cfg.SampleInterval, "Polling interval")
	fs.DurationVar(&cfg.Window, "window", cfg.Window, "Aggregation window; 0 samples once and writes immediately")
	fs.StringVar(&cfg.Timezone, "timezone", cfg.Timezone, "Timezone for row timestamps")
	fs.StringVar(&cfg.Sampler, "sampler", cfg.Sampler, "GPU sampler: nvml or smi")
	_ = fs.Parse(args)

	return cfg
}

func (c Config) Validate() error {
	if _, err := report.ParseMode(c.ServerType); err != nil {
		return err
	}
	if c.SheetID == "" {
		return errors.New("SHEET_ID is required")
	}
	if c.CredentialsPath == "" {
		return errors.New("GOOGLE_APPLICATION_CREDENTIALS is required")
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %s", c.SampleInterval)
	}
	if c.StartRow < 2 {
		return fmt.Errorf("start row must be at least 2 (row 1 holds the header), got %d", c.StartRow)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Mode and Location assume Validate has passed.

func (c Config) Mode() report.Mode {
	m, _ := report.ParseMode(c.ServerType)
	return m
}

func (c Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.Timezone)
	return loc
}

// Tab returns the worksheet tab for the configured mode.
func (c Config) Tab() string {
	if c.Mode() == report.ModeInternal {
		return c.TabUsers
	}
	return c.TabProcs
}

func envString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
