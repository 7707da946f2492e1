// Command rlink-agent runs one remote agent session against the
// controllers listed in its configuration file.
//
// Usage:
//
//	rlink-agent -config /etc/rlink/agent.yaml [-log-level debug]
//	rlink-agent -dump capture.rlog [-session ID] [-transport stream]
//	rlink-agent -version
//
// The agent has no interactive surface. It runs until the session
// terminates or it receives SIGINT or SIGTERM. With -dump it prints the
// events of a protocol capture as JSON lines and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rlog "github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/version"
)

func main() {
	var (
		configPath  string
		logLevel    string
		showVersion bool
		dumpPath    string
		filter      rlog.Filter
	)
	flag.StringVar(&configPath, "config", "", "Configuration file path (.yaml or .toml)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.StringVar(&dumpPath, "dump", "", "Print a protocol capture file and exit")
	flag.StringVar(&filter.SessionID, "session", "", "With -dump: only this session ID")
	flag.StringVar(&filter.Transport, "transport", "", "With -dump: only this transport kind")
	flag.StringVar(&filter.ErrorKind, "error-kind", "", "With -dump: only errors of this kind")
	flag.Parse()

	if showVersion {
		fmt.Println(version.String())
		return
	}

	if dumpPath != "" {
		if _, err := dumpCapture(os.Stdout, dumpPath, filter); err != nil {
			fmt.Fprintf(os.Stderr, "rlink-agent: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "rlink-agent: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "rlink-agent: %v\n", err)
		stop()
		os.Exit(1)
	}
}
