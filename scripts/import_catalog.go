package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"gopkg.in/yaml.v3"
)

// Column layout of the ship export. A ship with several powers spans several
// rows sharing the same id; ship columns are read from its first row.
const (
	colID = iota
	colName
	colFaction
	colCost
	colComponents
	colMaxCount
	colCharges
	colTiming
	colCategory
	colAmount
	colExpression
	colTarget
	colCostInCharges
	colBuilds
	colDescription
	columnCount
)

type catalogDocument struct {
	Ships []catalog.UnitDefinition `yaml:"ships"`
}

func main() {
	csvPath := "data/ships_export.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}
	outPath := "data/catalog.yaml"
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	absPath, err := filepath.Abs(csvPath)
	if err != nil {
		log.Fatalf("Failed to get absolute path: %v", err)
	}

	fmt.Println("=== Shipyard Catalog Import ===")
	fmt.Printf("CSV file: %s\n", absPath)

	file, err := os.Open(absPath)
	if err != nil {
		log.Fatalf("Failed to open CSV file: %v", err)
	}
	defer file.Close()

	startTime := time.Now()
	defs, skipped, err := readShips(file)
	if err != nil {
		log.Fatalf("Failed to read CSV: %v", err)
	}
	fmt.Printf("Parsed %d ships (%d rows skipped)\n", len(defs), skipped)

	// The catalog constructor validates components and power shapes.
	cat, err := catalog.New(defs)
	if err != nil {
		log.Fatalf("Catalog is invalid: %v", err)
	}

	data, err := yaml.Marshal(catalogDocument{Ships: cat.Definitions()})
	if err != nil {
		log.Fatalf("Failed to encode catalog: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", outPath, err)
	}

	fmt.Println("\n=== Import Complete ===")
	fmt.Printf("✓ Wrote %d ships to %s\n", len(defs), outPath)
	fmt.Printf("Factions: %s\n", strings.Join(cat.Factions(), ", "))
	fmt.Printf("Time taken: %s\n", time.Since(startTime))
	fmt.Println("\nNext step: set game.catalog_path in config/config.yaml")
}

func readShips(r io.Reader) ([]catalog.UnitDefinition, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, err
	}
	if len(records) < 2 {
		return nil, 0, fmt.Errorf("CSV file is empty or has no data rows")
	}

	var defs []catalog.UnitDefinition
	index := make(map[string]int)
	skipped := 0
	for i, record := range records[1:] { // Skip header
		if len(record) < columnCount || strings.TrimSpace(record[colID]) == "" {
			log.Printf("Warning: Skipping row %d - insufficient columns", i+2)
			skipped++
			continue
		}

		id := strings.TrimSpace(record[colID])
		at, ok := index[id]
		if !ok {
			defs = append(defs, catalog.UnitDefinition{
				ID:         id,
				Name:       record[colName],
				Faction:    strings.ToLower(strings.TrimSpace(record[colFaction])),
				Cost:       parseInt(record[colCost]),
				Components: splitList(record[colComponents]),
				MaxCount:   parseInt(record[colMaxCount]),
				Charges:    parseInt(record[colCharges]),
			})
			at = len(defs) - 1
			index[id] = at
		}

		if strings.TrimSpace(record[colTiming]) == "" {
			continue
		}
		defs[at].Powers = append(defs[at].Powers, catalog.Power{
			Timing:        rules.Timing(strings.TrimSpace(record[colTiming])),
			Category:      catalog.Category(strings.TrimSpace(record[colCategory])),
			Amount:        parseInt(record[colAmount]),
			Expression:    record[colExpression],
			Target:        catalog.Target(strings.TrimSpace(record[colTarget])),
			CostInCharges: parseInt(record[colCostInCharges]),
			Builds:        strings.TrimSpace(record[colBuilds]),
			Description:   record[colDescription],
		})
	}
	return defs, skipped, nil
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func splitList(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
