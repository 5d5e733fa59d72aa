package analyzer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/xitongsys/parquet-go/writer"
)

// dailyExportRow is the flattened per-day aggregate written by
// `fla export`.
type dailyExportRow struct {
	Date                   string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TotalQueries           int64   `parquet:"name=total_queries, type=INT64, convertedtype=UINT_64"`
	CacheHits              int64   `parquet:"name=cache_hits, type=INT64, convertedtype=UINT_64"`
	CacheMisses            int64   `parquet:"name=cache_misses, type=INT64, convertedtype=UINT_64"`
	CacheHitRate           float64 `parquet:"name=cache_hit_rate, type=DOUBLE"`
	ExcludedCount          int64   `parquet:"name=excluded_count, type=INT64, convertedtype=UINT_64"`
	IgnoredCount           int64   `parquet:"name=ignored_count, type=INT64, convertedtype=UINT_64"`
	UniqueDomains          int64   `parquet:"name=unique_domains, type=INT64, convertedtype=UINT_64"`
	UniqueClients          int64   `parquet:"name=unique_clients, type=INT64, convertedtype=UINT_64"`
	EstimatedUniqueDomains int64   `parquet:"name=estimated_unique_domains, type=INT64, convertedtype=UINT_64"`
	EstimatedUniqueClients int64   `parquet:"name=estimated_unique_clients, type=INT64, convertedtype=UINT_64"`
	BusiestHour            int32   `parquet:"name=busiest_hour, type=INT32, convertedtype=UINT_8"`
	TopDomain              *string `parquet:"name=top_domain, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TopDomainCount         int64   `parquet:"name=top_domain_count, type=INT64, convertedtype=UINT_64"`
}

// Export writes every stored day to a parquet file in export-dir. It is
// what `fla export` executes.
func Export(logger *slog.Logger, loggerLevel *slog.LevelVar) error {
	if viper.GetBool("debug") {
		loggerLevel.Set(slog.LevelDebug)
	}

	if err := initSketchSettings(); err != nil {
		return fmt.Errorf("Export: unable to set HLL defaults: %w", err)
	}

	dataDir := viper.GetString("data-dir")
	exportDir := viper.GetString("export-dir")
	if dataDir == "" {
		return fmt.Errorf("Export: data-dir is required")
	}
	if exportDir == "" {
		exportDir = "."
	}

	store, err := openStateStore(logger, dataDir)
	if err != nil {
		return fmt.Errorf("Export: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("unable to close state store", "error", err)
		}
	}()

	state := store.load()

	if len(state.snapshots) == 0 {
		logger.Info("no aggregate data to export")
		return nil
	}

	dates := state.sortedDates()

	rows := make([]dailyExportRow, 0, len(dates))
	for _, date := range dates {
		rows = append(rows, exportRow(state.snapshots[date]))
	}

	tmpName, realName := buildExportFilenames(exportDir, "fla-daily", dates[0], dates[len(dates)-1])

	if err := writeExportParquet(logger, rows, tmpName, realName); err != nil {
		return fmt.Errorf("Export: %w", err)
	}

	logger.Info("export complete", "file", realName, "days", len(rows))

	return nil
}

func exportRow(snap *DailySnapshot) dailyExportRow {
	row := dailyExportRow{
		Date:                   snap.Date,
		TotalQueries:           snap.TotalQueries,
		CacheHits:              snap.CacheHits,
		CacheMisses:            snap.CacheMisses,
		CacheHitRate:           snap.CacheHitRate(),
		ExcludedCount:          snap.ExcludedCount,
		IgnoredCount:           snap.IgnoredCount,
		UniqueDomains:          int64(len(snap.DomainCounts)),
		UniqueClients:          int64(len(snap.ClientIPCounts)),
		EstimatedUniqueDomains: int64(snap.UniqueDomainsEstimate()),
		EstimatedUniqueClients: int64(snap.UniqueClientsEstimate()),
	}

	busiest := 0
	for hour, count := range snap.HourlyQueryCounts {
		if count > snap.HourlyQueryCounts[busiest] {
			busiest = hour
		}
	}
	row.BusiestHour = int32(busiest)

	if top := topCounts(snap.DomainCounts, 1); len(top) > 0 {
		name := top[0].Name
		row.TopDomain = &name
		row.TopDomainCount = top[0].Count
	}

	return row
}

func buildExportFilenames(baseDir string, baseName string, firstDate string, lastDate string) (string, string) {
	fileName := fmt.Sprintf("%s-%s_%s.parquet", baseName, firstDate, lastDate)

	// Write output to a .tmp file so we can atomically rename it to the real
	// name when the file has been written in full
	tmpFileName := fileName + ".tmp"

	return filepath.Join(baseDir, tmpFileName), filepath.Join(baseDir, fileName)
}

func writeExportParquet(logger *slog.Logger, rows []dailyExportRow, tmpName string, realName string) error {
	outFile, err := createFile(logger, tmpName)
	if err != nil {
		return fmt.Errorf("writeExportParquet: %w", err)
	}

	writeFailed := false
	defer func() {
		if writeFailed {
			if err := os.Remove(tmpName); err != nil {
				logger.Error("writeExportParquet: unable to remove tmp file", "file", tmpName, "error", err)
			}
		}
	}()

	parquetWriter, err := writer.NewParquetWriterFromWriter(outFile, new(dailyExportRow), 4)
	if err != nil {
		writeFailed = true
		return fmt.Errorf("writeExportParquet: unable to create parquet writer: %w", err)
	}

	for _, row := range rows {
		if err := parquetWriter.Write(row); err != nil {
			writeFailed = true
			return fmt.Errorf("writeExportParquet: unable to write row: %w", err)
		}
	}

	if err := parquetWriter.WriteStop(); err != nil {
		writeFailed = true
		return fmt.Errorf("writeExportParquet: unable to flush parquet writer: %w", err)
	}

	if err := outFile.Close(); err != nil {
		writeFailed = true
		return fmt.Errorf("writeExportParquet: unable to close file: %w", err)
	}

	if err := renameFile(logger, tmpName, realName); err != nil {
		return fmt.Errorf("writeExportParquet: %w", err)
	}

	return nil
}
