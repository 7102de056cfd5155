package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"tptbm/api/tptbmapi"
	"tptbm/pkg/stats"
)

// RunSummary condenses one `tptbm -o json` result.
type RunSummary struct {
	File         string  `json:"file"`
	Processes    int     `json:"processes"`
	TPS          float64 `json:"tps"`
	TPM          float64 `json:"tpm"`
	ElapsedMS    int64   `json:"elapsedMS"`
	Committed    int64   `json:"committed"`
	RolledBack   int64   `json:"rolledBack"`
	LockTimeouts int64   `json:"lockTimeouts"`
	NoData       int64   `json:"noData"`
}

type FinalStats struct {
	TPS       stats.DistMetrics `json:"tps"`
	ElapsedMS stats.DistMetrics `json:"elapsedMS"`
	Averages  CombinedStats     `json:"averages"`
	Medians   CombinedStats     `json:"medians"`
}

type CombinedStats struct {
	TPS          float64 `json:"tps"`
	TPM          float64 `json:"tpm"`
	RolledBack   float64 `json:"rolledBack"`
	LockTimeouts float64 `json:"lockTimeouts"`
}

func main() {
	asJSON := flag.Bool("json", false, "Print the combined statistics as JSON")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("At least one summary file is required as a positional argument.")
	}

	var all []RunSummary
	for _, filename := range flag.Args() {
		summary, err := fileSummary(filename)
		if err != nil {
			log.Fatalf("Failed to read summary %s: %v", filename, err)
		}
		all = append(all, summary)
	}

	final := combinedStats(all)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			log.Fatal(err)
		}
		return
	}

	header := "%-30s %-6s %-12s %-14s %-10s %-12s %-12s %-14s\n"
	rule := fmt.Sprintf(header, "------------------------------", "------", "------------", "--------------", "----------", "------------", "------------", "--------------")

	fmt.Println("\nSummary Table:")
	fmt.Printf(header, "file", "procs", "tps", "tpm", "elapsedMS", "committed", "rolledBack", "lockTimeouts")
	fmt.Print(rule)
	for _, s := range all {
		fmt.Printf("%-30s %-6d %-12.1f %-14.1f %-10d %-12d %-12d %-14d\n",
			s.File, s.Processes, s.TPS, s.TPM, s.ElapsedMS, s.Committed, s.RolledBack, s.LockTimeouts)
	}
	fmt.Print(rule)

	row := "%-30s %-6s %-12.1f %-14.1f %-10s %-12s %-12.1f %-14.1f\n"
	fmt.Printf(row, "Averages", "", final.Averages.TPS, final.Averages.TPM, "", "", final.Averages.RolledBack, final.Averages.LockTimeouts)
	fmt.Printf(row, "Medians", "", final.Medians.TPS, final.Medians.TPM, "", "", final.Medians.RolledBack, final.Medians.LockTimeouts)
	fmt.Printf("\nTPS min %.1f, max %.1f, stddev %.1f\n", final.TPS.Min, final.TPS.Max, final.TPS.Stddev)
}

func fileSummary(filename string) (RunSummary, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return RunSummary{}, fmt.Errorf("read file: %w", err)
	}

	var doc tptbmapi.Summary
	if err := json.Unmarshal(data, &doc); err != nil {
		return RunSummary{}, fmt.Errorf("unmarshal JSON: %w", err)
	}

	s := RunSummary{
		File:       filename,
		Processes:  doc.Processes,
		TPS:        float64(doc.TPS),
		TPM:        float64(doc.TPM),
		ElapsedMS:  doc.ElapsedMillis,
		Committed:  doc.Committed,
		RolledBack: doc.RolledBack,
	}
	for _, op := range doc.Ops {
		s.LockTimeouts += op.LockTimeouts
		s.NoData += op.NoData
	}
	return s, nil
}

func combinedStats(all []RunSummary) FinalStats {
	tps := func(s RunSummary) float64 { return s.TPS }
	tpm := func(s RunSummary) float64 { return s.TPM }
	rolledBack := func(s RunSummary) float64 { return float64(s.RolledBack) }
	lockTimeouts := func(s RunSummary) float64 { return float64(s.LockTimeouts) }

	return FinalStats{
		TPS:       stats.DistMetricStatsFrom(all, tps),
		ElapsedMS: stats.DistMetricStatsFrom(all, func(s RunSummary) float64 { return float64(s.ElapsedMS) }),
		Averages: CombinedStats{
			TPS:          stats.SliceAverageFunc(all, tps),
			TPM:          stats.SliceAverageFunc(all, tpm),
			RolledBack:   stats.SliceAverageFunc(all, rolledBack),
			LockTimeouts: stats.SliceAverageFunc(all, lockTimeouts),
		},
		Medians: CombinedStats{
			TPS:          stats.SlicesMedianOf(all, tps),
			TPM:          stats.SlicesMedianOf(all, tpm),
			RolledBack:   stats.SlicesMedianOf(all, rolledBack),
			LockTimeouts: stats.SlicesMedianOf(all, lockTimeouts),
		},
	}
}
