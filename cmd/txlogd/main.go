// Command txlogd is the process entry point: it loads settings, opens a
// log store, starts the coordinator (running recovery if needed), and
// drops into an interactive operator shell over the accumulator demo
// resource.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/opcoordio/txlog/pkg/adapter/accumulator"
	"github.com/opcoordio/txlog/pkg/config"
	"github.com/opcoordio/txlog/pkg/coordinator"
	"github.com/opcoordio/txlog/pkg/diag"
	"github.com/opcoordio/txlog/pkg/logstore"
	"github.com/opcoordio/txlog/pkg/replcli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	settings := config.Load()

	log, err := diag.New(settings.Development)
	if err != nil {
		return fmt.Errorf("txlogd: building logger: %w", err)
	}
	defer log.Sync()

	var store logstore.LogStore
	if settings.Dir != "" {
		if err := os.MkdirAll(settings.Dir, 0755); err != nil {
			return fmt.Errorf("txlogd: creating log dir: %w", err)
		}
		store = logstore.NewFileStore(settings.Dir, func(format string, args ...any) {
			log.Warn(fmt.Sprintf(format, args...))
		})
	} else {
		store = logstore.NewMemStore()
	}

	acc := accumulator.New()
	coord := coordinator.New(acc, store, log, settings.ThreadAffine, settings.RecoveryFanout)

	if err := coord.Start(settings.RecoverCorrupt); err != nil {
		return fmt.Errorf("txlogd: starting coordinator: %w", err)
	}
	defer coord.Stop(true, settings.StopTimeout)

	session := replcli.NewSession(coord, acc)
	shell := session.TxCommands()
	shell.Run(nil, uuid.New(), "txlogd> ")
	return nil
}
