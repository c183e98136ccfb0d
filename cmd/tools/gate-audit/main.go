// gate-audit prints the persisted gate verdicts and envelope for one
// run from the artifact database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/kinematics.report/internal/db"
	"github.com/banshee-data/kinematics.report/internal/mocap"
)

var (
	dbFile      = flag.String("db", "kinematics_data.db", "Path to the SQLite artifact database")
	showMetrics = flag.Bool("metrics", false, "Print the per-gate metrics JSON")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: gate-audit [flags] <run-id>\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	runID := flag.Arg(0)

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	store := mocap.NewRunStore(database.DB)

	rec, err := store.GetRun(runID)
	if err != nil {
		log.Fatalf("failed to fetch run: %v", err)
	}
	fmt.Printf("run %s  status=%s  rate=%.6g Hz  frames=%d  started=%s\n",
		rec.RunID, rec.Status, rec.Rate, rec.Frames, rec.StartedAt.Format("2006-01-02 15:04:05"))
	if rec.Reason != "" {
		fmt.Printf("  reason: %s\n", rec.Reason)
	}

	verdicts, err := store.ListGateVerdicts(runID)
	if err != nil {
		log.Fatalf("failed to list gate verdicts: %v", err)
	}
	if len(verdicts) == 0 {
		fmt.Println("  no gate verdicts recorded")
		return
	}
	for _, v := range verdicts {
		fmt.Printf("  gate %d %-22s %-22s %s\n", v.Gate, v.Name, v.Status, v.Reason)
		if *showMetrics && len(v.Metrics) > 0 {
			var buf map[string]any
			if err := json.Unmarshal(v.Metrics, &buf); err == nil {
				pretty, _ := json.MarshalIndent(buf, "    ", "  ")
				fmt.Printf("    %s\n", pretty)
			}
		}
	}
}
