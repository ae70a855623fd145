// Command coach-console runs a coaching session in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vango-go/vai-coach/internal/bootstrap"
	"github.com/vango-go/vai-coach/pkg/console"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	logPath := flag.String("log", "coach-console.log", "file the session log is written to")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		return 1
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := tea.LogToFile(*logPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return 1
	}
	defer logFile.Close()
	logger := cfg.NewLogger(logFile)

	app, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.Close()

	p := tea.NewProgram(console.New(app.Session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
