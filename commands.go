package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/banshee-data/kinematics.report/internal/config"
	"github.com/banshee-data/kinematics.report/internal/db"
	"github.com/banshee-data/kinematics.report/internal/mocap"
	"github.com/banshee-data/kinematics.report/internal/mocap/monitor"
	"github.com/banshee-data/kinematics.report/internal/mocap/pipeline"
)

// runMigrate handles the migrate subcommand: up, down, version, force N.
func runMigrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migrate action (up, down, version, force)")
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(*migrationsDir); err != nil {
			return err
		}
		log.Printf("migrations applied")
	case "down":
		if err := database.MigrateDown(*migrationsDir); err != nil {
			return err
		}
		log.Printf("rolled back one migration")
	case "version":
		version, dirty, err := database.MigrateVersion(*migrationsDir)
		if err != nil {
			return err
		}
		log.Printf("version %d (dirty=%v)", version, dirty)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("force requires a version argument")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(*migrationsDir, version); err != nil {
			return err
		}
		log.Printf("forced version to %d", version)
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	return nil
}

// runProcess runs each session file through the pipeline and prints the
// per-gate and overall verdicts.
func runProcess(tuning *config.TuningConfig, paths []string) error {
	rt := pipeline.RuntimeFromTuning(tuning)
	if *globalCutoff {
		rt.Cutoff.PerRegion = false
	}
	if *noRepair {
		rt.RepairCriticalArtifacts = false
	}

	if !*noDB {
		database, err := db.NewDB(*dbFile)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.CheckMigrations(*migrationsDir); err != nil {
			return err
		}
		rt.Store = mocap.NewRunStore(database.DB)
	}

	for _, path := range paths {
		raw, err := mocap.JSONSessionFile{Path: path, Units: *unitsOverride}.Load()
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}

		outcome, err := rt.Process(raw, path)
		if err != nil {
			return fmt.Errorf("processing %s: %w", path, err)
		}

		printOutcome(path, outcome)

		if *csvOut != "" {
			if err := mocap.ExportKinematicsCSV(*csvOut, outcome.Kinematics); err != nil {
				return fmt.Errorf("exporting %s: %w", path, err)
			}
			log.Printf("wrote kinematics CSV to %s", *csvOut)
		}
		if *plotsDir != "" {
			rp, err := monitor.NewResidualPlotter(*plotsDir)
			if err != nil {
				return err
			}
			n, err := rp.Generate(outcome.RunID, outcome.Decisions)
			if err != nil {
				return fmt.Errorf("plotting %s: %w", path, err)
			}
			log.Printf("wrote %d residual plots to %s", n, *plotsDir)
		}
	}
	return nil
}

func printOutcome(path string, o *pipeline.Outcome) {
	fmt.Printf("%s  run=%s  %.6g Hz  %d frames\n", path, o.RunID, o.Session.Rate, o.Session.NumFrames())
	for _, g := range o.Gates {
		fmt.Printf("  gate %d %-22s %-22s %s\n", g.Gate, g.Name, g.Status, g.Reason)
	}
	fmt.Printf("  bursts: %s\n", o.Bursts.Summary())
	if len(o.Repair.Repaired) > 0 {
		fmt.Printf("  repaired %d critical artifact events\n", len(o.Repair.Repaired))
	}
	fmt.Printf("  overall: %s (%s)\n", o.Overall.Status, o.Overall.Reason)
}
