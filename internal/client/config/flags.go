package config

import (
	"flag"
	"os"
	"time"

	"github.com/securechat-dev/securechat/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the backend server (default from Config)
//	-w string   websocket delivery endpoint (default from Config)
//	-d string   path to the local key database (default from Config)
//	-r int      session refresh interval in minutes (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-d", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the backend server")
	fs.StringVar(&cfg.WebsocketURL, "w", cfg.WebsocketURL, "websocket delivery endpoint")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local key database")
	refreshInterval := fs.Int("r", int(cfg.RefreshInterval.Minutes()), "session refresh interval (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RefreshInterval = time.Duration(*refreshInterval) * time.Minute
}
