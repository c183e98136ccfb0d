package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/kinematics.report/internal/config"
	"github.com/banshee-data/kinematics.report/internal/version"
)

var (
	dbFile        = flag.String("db", "kinematics_data.db", "Path to the SQLite artifact database")
	migrationsDir = flag.String("migrations", "internal/db/migrations", "Path to the migrations directory")
	configFile    = flag.String("config", "", "Path to a tuning config JSON file (defaults used when empty)")
	csvOut        = flag.String("csv", "", "Write the derived kinematics to this CSV path")
	plotsDir      = flag.String("plots", "", "Write residual-curve diagnostic plots into this directory")
	globalCutoff  = flag.Bool("global-cutoff", false, "Select one whole-body cutoff instead of per-region cutoffs")
	noRepair      = flag.Bool("no-repair", false, "Disable surgical repair of critical artifacts")
	noDB          = flag.Bool("no-db", false, "Process without persisting artifacts")
	unitsOverride = flag.String("units", "", "Override the session document's length unit (mm or m)")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  kinematics-report [flags] <session.json> [more sessions...]
  kinematics-report [flags] migrate <up|down|version|force N>

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("kinematics-report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var tuning *config.TuningConfig
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	if args[0] == "migrate" {
		if err := runMigrate(args[1:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if err := runProcess(tuning, args); err != nil {
		log.Fatalf("%v", err)
	}
}
