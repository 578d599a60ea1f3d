package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"RegimePull/internal/domain/models"
	"RegimePull/internal/engine"
	"RegimePull/pkg/config"
	applogger "RegimePull/pkg/logger"
	"RegimePull/pkg/metrics"
	"RegimePull/pkg/util"
)

// replay feeds a CSV of closed bars through the engine offline and prints the
// resulting snapshots and transitions as JSON lines. Useful for backtesting a
// parameter set and for reproducing a production decision bar by bar.
//
// CSV columns: close_time,open,high,low,close,volume[,structural_level]
func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	csvPath := flag.String("bars", "", "CSV file of closed bars")
	instrument := flag.String("instrument", "REPLAY", "instrument id")
	tf := flag.String("tf", "1h", "timeframe label")
	transitionsOnly := flag.Bool("transitions-only", false, "print only transitions")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("missing -bars")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	params, err := engine.NewParams(&cfg.Engine)
	if err != nil {
		log.Fatalf("engine params: %v", err)
	}

	tracker := engine.NewTracker(params, applogger.Nop(), metrics.New())

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("open bars: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(os.Stdout)
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	ctx := context.Background()
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read csv: %v", err)
		}
		line++
		bar, err := parseBar(rec, *instrument, *tf)
		if err != nil {
			if line == 1 {
				continue // header row
			}
			log.Fatalf("line %d: %v", line, err)
		}

		snap, transitions, err := tracker.Apply(ctx, bar)
		if err != nil {
			continue // stale bars are skipped, same as production
		}
		for _, t := range transitions {
			_ = enc.Encode(t)
		}
		if !*transitionsOnly && snap != nil {
			_ = enc.Encode(snap)
		}
	}
}

func parseBar(rec []string, instrument, tf string) (*models.Bar, error) {
	if len(rec) < 6 {
		return nil, fmt.Errorf("want at least 6 columns, got %d", len(rec))
	}
	ts, ok := util.ParseTime(rec[0])
	if !ok {
		return nil, fmt.Errorf("bad close_time %q", rec[0])
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	bar := &models.Bar{
		InstrumentID: instrument,
		Timeframe:    tf,
		CloseTime:    ts,
		Open:         vals[0],
		High:         vals[1],
		Low:          vals[2],
		Close:        vals[3],
		Volume:       vals[4],
	}
	if len(rec) > 6 {
		if lvl, err := strconv.ParseFloat(rec[6], 64); err == nil {
			bar.StructuralLevel = lvl
		}
	}
	return bar, nil
}
