// apiserver is the WAL ingestion server entry point. It loads
// configuration from a file (when -config is given) or the environment and
// runs the service until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/turtacn/WAL-Service/internal/config"
	"github.com/turtacn/WAL-Service/internal/interfaces/cli"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (env-only when empty)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	var opts []cli.ServeOption
	if *configPath != "" {
		opts = append(opts, cli.WithConfigWatch(*configPath))
	}
	if err := cli.Serve(context.Background(), cfg, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}
