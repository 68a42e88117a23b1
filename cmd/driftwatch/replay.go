package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/alerting"
	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detector"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/enrich"
	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/internal/stream"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

// runReplay feeds a JSONL record file through a stream processor and prints
// each batch's detection result as JSON. Useful for tuning sensitivity
// against historical data without a running deployment.
func runReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	file := fs.String("file", "", "JSONL file with one record per line (required)")
	tsField := fs.String("timestamp-field", "timestamp", "record field holding the timestamp")
	valueFields := fs.String("value-fields", "", "comma-separated numeric fields to score (required)")
	sensitivity := fs.String("sensitivity", "medium", "detection sensitivity: low, medium, high")
	algorithms := fs.String("algorithms", "statistical", "comma-separated algorithms to run")
	batchSize := fs.Int("batch-size", 500, "records per detection batch")
	_ = fs.Parse(args)

	if *file == "" || *valueFields == "" {
		fs.Usage()
		os.Exit(2)
	}

	v, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	records, err := readJSONL(*file)
	if err != nil {
		logger.Fatal("failed to read records", zap.Error(err))
	}
	if len(records) == 0 {
		logger.Fatal("no records in file", zap.String("file", *file))
	}

	var algs []detection.Algorithm
	for _, name := range strings.Split(*algorithms, ",") {
		algs = append(algs, detection.Algorithm{Kind: detection.AlgorithmKind(strings.TrimSpace(name))})
	}

	source := detection.DataSource{
		ID:             "replay",
		OrganizationID: "replay",
		Name:           *file,
		TimestampField: *tsField,
		ValueFields:    strings.Split(*valueFields, ","),
	}
	cfg := &detection.DetectionConfig{
		Algorithms:  algs,
		Sensitivity: detection.Sensitivity(*sensitivity),
	}
	alertCfg := &detection.AlertConfig{Enabled: true}

	bus := event.NewBus(logger.Named("event"))
	baselines := baseline.NewManager(baseline.NewMemoryCache(time.Hour), logger.Named("baseline"))
	eng := engine.New(
		detector.DefaultRegistry(),
		baselines,
		enrich.New(nil, 0, logger.Named("enrich")),
		alerting.NewGenerator(bus, 0, logger.Named("alerting")),
		nil,
		bus,
		logger.Named("engine"),
		engine.Options{},
	)

	ctx := context.Background()
	p := stream.NewProcessor("replay", source, cfg, alertCfg, eng, baselines, bus, 1, logger.Named("stream"))
	p.Start(ctx)
	defer p.Stop()

	enc := json.NewEncoder(os.Stdout)
	for start := 0; start < len(records); start += *batchSize {
		end := start + *batchSize
		if end > len(records) {
			end = len(records)
		}
		result, err := p.ProcessBatch(ctx, records[start:end])
		if err != nil {
			logger.Fatal("batch failed", zap.Int("offset", start), zap.Error(err))
		}
		if err := enc.Encode(result); err != nil {
			logger.Fatal("encode result", zap.Error(err))
		}
	}
}

func readJSONL(path string) ([]detection.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []detection.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec detection.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
