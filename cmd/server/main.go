package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mnohosten/repcrec/pkg/admin"
	"github.com/mnohosten/repcrec/pkg/chaos"
	"github.com/mnohosten/repcrec/pkg/datamgr"
	"github.com/mnohosten/repcrec/pkg/driver"
	"github.com/mnohosten/repcrec/pkg/events"
	"github.com/mnohosten/repcrec/pkg/snapshot"
	"github.com/mnohosten/repcrec/pkg/txnmgr"
)

// cmd/server runs the simulator's driver loop reading commands from
// stdin, exactly like cmd/repcrec, but also starts the admin inspection
// server in the background so a human or a dashboard can watch the
// manager's live state (sites, transactions, waits-for graph, metrics)
// while the simulation runs.
func main() {
	host := flag.String("host", "localhost", "Admin server host address")
	port := flag.Int("port", 8080, "Admin server port")
	corsOrigin := flag.String("cors-origin", "*", "CORS allowed origin for the admin server")
	enableTLS := flag.Bool("tls", false, "Enable TLS/SSL on the admin server")
	tlsCert := flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "Path to TLS private key file")
	enableGraphQL := flag.Bool("graphql", false, "Enable the GraphQL inspection API (/graphql) and GraphiQL playground (/graphiql)")
	format := flag.String("format", "text", "Event output format: text or json")
	snapshotOut := flag.String("snapshot-out", "", "If set, write a compressed state snapshot to this file when the driver exits")
	chaosOn := flag.Bool("chaos", false, "Interleave a deterministic schedule of random site failures with the real input stream")
	chaosSeed := flag.Int64("chaos-seed", 1, "Seed for the -chaos fault schedule; the same seed always produces the same schedule")
	chaosProb := flag.Float64("chaos-prob", 0.02, "Per-tick probability that an up site configured for -chaos goes down")
	chaosMinDown := flag.Int64("chaos-min-downtime", 3, "Minimum ticks a site stays down once -chaos knocks it over")
	chaosMaxDown := flag.Int64("chaos-max-downtime", 10, "Maximum ticks a site stays down once -chaos knocks it over")
	flag.Parse()

	config := admin.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.AllowedOrigins = []string{*corsOrigin}
	config.EnableTLS = *enableTLS
	config.TLSCertFile = *tlsCert
	config.TLSKeyFile = *tlsKey
	config.EnableGraphQL = *enableGraphQL

	if config.EnableTLS {
		if _, err := os.Stat(config.TLSCertFile); os.IsNotExist(err) {
			if err := admin.GenerateSelfSignedCert(config.TLSCertFile, config.TLSKeyFile, config.Host); err != nil {
				fmt.Fprintf(os.Stderr, "repcrec-server: failed to generate self-signed certificate: %v\n", err)
				os.Exit(1)
			}
		}
	}

	logger := events.New(events.Config{
		Output:      os.Stdout,
		Format:      *format,
		MinSeverity: events.Info,
	})
	manager := txnmgr.New(logger)

	srv, err := admin.New(config, manager, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repcrec-server: failed to create admin server: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	d := driver.New(manager, logger, os.Stdin)
	if *chaosOn {
		inj := chaos.NewInjector(*chaosSeed)
		for s := 1; s <= datamgr.SiteCount; s++ {
			inj.Configure(chaos.FaultConfig{
				Site:        s,
				Probability: *chaosProb,
				MinDowntime: *chaosMinDown,
				MaxDowntime: *chaosMaxDown,
			})
		}
		d.SetChaos(inj)
	}

	runErr := d.Run()
	srv.Shutdown()

	if *snapshotOut != "" {
		state := snapshot.Capture(manager)
		blob, err := snapshot.Export(state, snapshot.DefaultOptions())
		if err != nil {
			fmt.Fprintf(os.Stderr, "repcrec-server: failed to export snapshot: %v\n", err)
		} else if err := os.WriteFile(*snapshotOut, blob, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "repcrec-server: failed to write snapshot file: %v\n", err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "repcrec-server: %v\n", runErr)
		os.Exit(1)
	}
	if err := <-errCh; err != nil {
		fmt.Fprintf(os.Stderr, "repcrec-server: %v\n", err)
		os.Exit(1)
	}
}
