package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mnohosten/repcrec/pkg/chaos"
	"github.com/mnohosten/repcrec/pkg/datamgr"
	"github.com/mnohosten/repcrec/pkg/driver"
	"github.com/mnohosten/repcrec/pkg/events"
	"github.com/mnohosten/repcrec/pkg/txnmgr"
)

func main() {
	format := flag.String("format", "text", "Event output format: text or json")
	severity := flag.String("min-severity", "info", "Minimum event severity to print: info, abort, unavailable, input, internal")
	chaosOn := flag.Bool("chaos", false, "Interleave a deterministic schedule of random site failures with the real input stream")
	chaosSeed := flag.Int64("chaos-seed", 1, "Seed for the -chaos fault schedule; the same seed always produces the same schedule")
	chaosProb := flag.Float64("chaos-prob", 0.02, "Per-tick probability that an up site configured for -chaos goes down")
	chaosMinDown := flag.Int64("chaos-min-downtime", 3, "Minimum ticks a site stays down once -chaos knocks it over")
	chaosMaxDown := flag.Int64("chaos-max-downtime", 10, "Maximum ticks a site stays down once -chaos knocks it over")
	flag.Parse()

	minSev, err := parseSeverity(*severity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repcrec: %v\n", err)
		os.Exit(1)
	}

	logger := events.New(events.Config{
		Output:      os.Stdout,
		Format:      *format,
		MinSeverity: minSev,
	})

	manager := txnmgr.New(logger)
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

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "repcrec: %v\n", err)
		os.Exit(1)
	}
}

func parseSeverity(s string) (events.Severity, error) {
	switch s {
	case "info":
		return events.Info, nil
	case "abort":
		return events.Abort, nil
	case "unavailable":
		return events.Unavailable, nil
	case "input":
		return events.Input, nil
	case "internal":
		return events.Internal, nil
	default:
		return events.Info, fmt.Errorf("unrecognized severity %q", s)
	}
}
