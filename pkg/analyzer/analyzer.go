package analyzer

import (
	"bufio"
	"context"
	"fmt"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/dnstapir/fla/pkg/report"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/smhanov/dawg"
	"github.com/spaolacci/murmur3"
	"github.com/spf13/viper"
	"github.com/yawning/cryptopan"
	"go4.org/netipx"
	"golang.org/x/crypto/argon2"
)

const (
	// dnsmasq lines are short but we are prepared for oversized garbage
	// in a shared log file.
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024

	timestampCacheEntries = 8192

	// Shutdown/cancellation is only checked every this many lines.
	linesPerCancelCheck = 4096
)

// logAnalyzer carries everything needed to turn log lines into day
// snapshots. One instance serves one run.
type logAnalyzer struct {
	log    *slog.Logger
	cfg    Config
	debug  bool
	runNow time.Time
	loc    *time.Location

	tsCache        *lru.Cache[string, time.Time]
	ignoredClients *netipx.IPSet
	ignoredDomains dawg.Finder
	cryptopan      *cryptopan.Cryptopan
	sketchHasher   hash.Hash64
	metrics        *runMetrics
}

func newLogAnalyzer(logger *slog.Logger, cfg Config, now time.Time) (*logAnalyzer, error) {
	if err := initSketchSettings(); err != nil {
		return nil, fmt.Errorf("newLogAnalyzer: unable to set HLL defaults: %w", err)
	}

	la := &logAnalyzer{
		log:          logger,
		cfg:          cfg,
		runNow:       now,
		loc:          now.Location(),
		sketchHasher: murmur3.New64WithSeed(sketchHashSeed),
		metrics:      newRunMetrics(),
	}

	tsCache, err := lru.New[string, time.Time](timestampCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("newLogAnalyzer: unable to create timestamp cache: %w", err)
	}
	la.tsCache = tsCache

	if cfg.IgnoredClientIPsFile != "" {
		ipset, err := loadIgnoredClients(cfg.IgnoredClientIPsFile)
		if err != nil {
			return nil, fmt.Errorf("newLogAnalyzer: %w", err)
		}
		la.ignoredClients = ipset
	}

	if cfg.IgnoredDomainsFile != "" {
		finder, err := dawg.Load(cfg.IgnoredDomainsFile)
		if err != nil {
			return nil, fmt.Errorf("newLogAnalyzer: unable to load ignored domains: %w", err)
		}
		la.ignoredDomains = finder
	}

	if cfg.PseudonymiseClientIPs {
		// Create a 32 byte length secret based on the supplied key, this
		// way the cryptopan key can be any length.
		aesKey := argon2.IDKey([]byte(cfg.CryptopanKey), []byte(cfg.CryptopanKeySalt), 1, 64*1024, 4, 32)
		cpn, err := cryptopan.New(aesKey)
		if err != nil {
			return nil, fmt.Errorf("newLogAnalyzer: %w", err)
		}
		la.cryptopan = cpn
	}

	return la, nil
}

// Run ingests the configured log file, persists the updated aggregates,
// sweeps expired days and writes the report. It is what `fla run`
// executes.
func Run(logger *slog.Logger, loggerLevel *slog.LevelVar) error {
	if viper.GetBool("debug") {
		loggerLevel.Set(slog.LevelDebug)
	}

	cfg := configFromViper()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("Run: invalid config: %w", err)
	}

	la, err := newLogAnalyzer(logger, cfg, time.Now())
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	la.debug = viper.GetBool("debug")

	// Exit gracefully on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStateStore(logger, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("unable to close state store", "error", err)
		}
	}()

	state := store.load()
	la.log.Info("state loaded",
		"stored_days", len(state.snapshots),
		"ledger_entries", state.ledger.size(),
		"last_run", state.lastRun,
	)

	stats, err := la.ingestFile(ctx, state, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	if err := store.save(state, la.runNow); err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	removedDays, reclaimedBytes, err := store.sweep(state, la.runNow, cfg.RetentionDays)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	reportData := la.buildReportData(state)
	la.annotateReport(ctx, state, &reportData)

	if err := report.WriteFile(la.log, cfg.OutputFile, reportData); err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	la.metrics.storedDays.Set(float64(len(state.snapshots)))
	la.metrics.ledgerSize.Set(float64(state.ledger.size()))
	la.metrics.sweptDays.Set(float64(removedDays))
	la.metrics.reclaimedBytes.Set(float64(reclaimedBytes))
	la.metrics.lastRunTime.SetToCurrentTime()
	if err := la.metrics.writeTextfile(cfg.MetricsFile); err != nil {
		la.log.Warn("unable to write metrics textfile", "file", cfg.MetricsFile, "error", err)
	}

	dataDirBytes, dataDirFiles := dataDirSize(cfg.DataDir)

	var todayQueries int64
	cacheHitRate := 0.0
	if today := state.peek(dateKey(la.runNow)); today != nil {
		todayQueries = today.TotalQueries
		cacheHitRate = today.CacheHitRate()
	}

	la.log.Info("run complete",
		"processed_lines", stats.processedLines,
		"counted_events", stats.countedEvents,
		"duplicate_lines", stats.duplicateLines,
		"unrecognized_lines", stats.unrecognizedLines,
		"out_of_window_events", stats.outOfWindowEvents,
		"timestamp_fallbacks", stats.timestampFallbacks,
		"ignored_events", stats.ignoredEvents,
		"excluded_events", stats.excludedEvents,
		"today_queries", todayQueries,
		"cache_hit_rate", fmt.Sprintf("%.1f", cacheHitRate),
		"removed_days", removedDays,
		"stored_days", len(state.snapshots),
		"data_dir_bytes", dataDirBytes,
		"data_dir_files", dataDirFiles,
		"report", cfg.OutputFile,
	)

	return nil
}

// Clean runs just the retention sweep. It is what `fla clean` executes.
func Clean(logger *slog.Logger, loggerLevel *slog.LevelVar) error {
	if viper.GetBool("debug") {
		loggerLevel.Set(slog.LevelDebug)
	}

	if err := initSketchSettings(); err != nil {
		return fmt.Errorf("Clean: unable to set HLL defaults: %w", err)
	}

	dataDir := viper.GetString("data-dir")
	retentionDays := viper.GetInt("retention-days")
	if dataDir == "" || retentionDays < 1 {
		return fmt.Errorf("Clean: data-dir and a positive retention-days are required")
	}

	store, err := openStateStore(logger, dataDir)
	if err != nil {
		return fmt.Errorf("Clean: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("unable to close state store", "error", err)
		}
	}()

	state := store.load()

	removed, reclaimed, err := store.sweep(state, time.Now(), retentionDays)
	if err != nil {
		return fmt.Errorf("Clean: %w", err)
	}

	logger.Info("retention sweep complete",
		"removed_days", removed,
		"reclaimed_bytes", reclaimed,
		"stored_days", len(state.snapshots),
	)

	return nil
}

type ingestStats struct {
	processedLines     int64
	unrecognizedLines  int64
	duplicateLines     int64
	outOfWindowEvents  int64
	timestampFallbacks int64
	ignoredEvents      int64
	excludedEvents     int64
	countedEvents      int64
}

// ingestFile reads the log once, top to bottom. An error means nothing
// should be persisted: the caller only saves on nil error.
func (la *logAnalyzer) ingestFile(ctx context.Context, st *engineState, path string) (ingestStats, error) {
	var stats ingestStats

	logFile, err := os.Open(filepath.Clean(path))
	if err != nil {
		return stats, fmt.Errorf("ingestFile: unable to open log file: %w", err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			la.log.Error("ingestFile: unable to close log file", "error", err)
		}
	}()

	la.log.Info("ingesting log file", "file", path)

	scanner := bufio.NewScanner(logFile)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	for scanner.Scan() {
		if stats.processedLines%linesPerCancelCheck == 0 {
			select {
			case <-ctx.Done():
				return stats, fmt.Errorf("ingestFile: %w", ctx.Err())
			default:
			}
		}
		la.ingestLine(st, scanner.Text(), &stats)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("ingestFile: unable to read log file: %w", err)
	}

	return stats, nil
}

func (la *logAnalyzer) ingestLine(st *engineState, line string, stats *ingestStats) {
	stats.processedLines++
	la.metrics.processedLines.Inc()

	// Log files can contain arbitrary bytes, drop anything that is not
	// valid UTF-8 before matching.
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "")
	}

	raw, ok := classifyLine(line)
	if !ok {
		stats.unrecognizedLines++
		la.metrics.unrecognizedLines.Inc()
		return
	}

	ts, parsed := la.normalizeTimestamp(raw.timestamp)
	if !parsed {
		stats.timestampFallbacks++
		la.metrics.timestampFallbacks.Inc()
		la.log.Warn("substituting current time for unparseable timestamp", "timestamp", raw.timestamp)
	}

	if !st.ledger.admit(fingerprintLine(line, ts)) {
		stats.duplicateLines++
		la.metrics.duplicateLines.Inc()
		return
	}

	if !inAnalysisWindow(ts, la.runNow) {
		stats.outOfWindowEvents++
		la.metrics.outOfWindowEvents.Inc()
		if la.debug {
			la.log.Debug("event outside analysis window", "timestamp", ts, "domain", raw.domain)
		}
		return
	}

	la.metrics.classifiedEvents.WithLabelValues(raw.kind.String()).Inc()

	switch la.aggregateEvent(st, raw.withTime(ts)) {
	case outcomeCounted:
		stats.countedEvents++
		la.metrics.countedEvents.Inc()
	case outcomeIgnored:
		stats.ignoredEvents++
		la.metrics.ignoredEvents.Inc()
	case outcomeExcluded:
		stats.excludedEvents++
		la.metrics.excludedEvents.Inc()
	}
}

// dataDirSize sums file sizes under dir for the run summary.
func dataDirSize(dir string) (int64, int) {
	var bytes int64
	files := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		bytes += info.Size()
		files++
		return nil
	})
	return bytes, files
}
