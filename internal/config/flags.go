package config

import (
	"flag"
	"os"
	"time"

	"github.com/mkarpova/fieldsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   path to the local SQLite database
//	-a string   base URL of the remote record store
//	-s string   inspection service id
//	-t string   path to the template catalogue JSON file
//	-g string   template category for the session
//	-w int      worker count
//	-i int      drain interval in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-a", "-s", "-t", "-g", "-w", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local database")
	fs.StringVar(&cfg.RemoteBaseURL, "a", cfg.RemoteBaseURL, "base URL of the remote record store")
	fs.StringVar(&cfg.ServiceID, "s", cfg.ServiceID, "inspection service id")
	fs.StringVar(&cfg.CatalogPath, "t", cfg.CatalogPath, "path to the template catalogue file")
	fs.StringVar(&cfg.Category, "g", cfg.Category, "template category for the session")
	fs.IntVar(&cfg.WorkerCount, "w", cfg.WorkerCount, "number of sync workers")
	drainInterval := fs.Int("i", int(cfg.DrainInterval.Seconds()), "drain interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.DrainInterval = time.Duration(*drainInterval) * time.Second
}
