package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"riskguard/internal/audit"
	"riskguard/internal/domain"
)

// ParquetArchive writes closed-out audit days to Parquet files for long-term
// retention. One file per day:
//
//	<DataDir>/audit/<YYYY>/<YYYY-MM-DD>.parquet
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates an archive rooted at the given data directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// AuditRecord is the Parquet schema for archived audit entries.
type AuditRecord struct {
	ID      string `parquet:"id"`
	Time    int64  `parquet:"time,timestamp(millisecond)"` // Unix ms
	Account string `parquet:"account"`
	Event   string `parquet:"event"`
	Rule    string `parquet:"rule"`
	Reason  string `parquet:"reason"`
	Action  string `parquet:"action"`
	Outcome string `parquet:"outcome"`
	Detail  string `parquet:"detail"`
}

// ArchiveDay writes the entries for one day, merging with any existing file
// so re-archiving after a crash is idempotent.
func (a *ParquetArchive) ArchiveDay(day time.Time, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	path := a.dayPath(day)

	existing, _ := readParquetFile[AuditRecord](path)
	records := make([]AuditRecord, 0, len(existing)+len(entries))
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		records = append(records, r)
		seen[r.ID] = struct{}{}
	}
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		records = append(records, AuditRecord{
			ID:      e.ID,
			Time:    e.Time.UnixMilli(),
			Account: string(e.Account),
			Event:   e.Event,
			Rule:    e.Rule,
			Reason:  e.Reason,
			Action:  e.Action,
			Outcome: e.Outcome,
			Detail:  e.Detail,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Time != records[j].Time {
			return records[i].Time < records[j].Time
		}
		return records[i].ID < records[j].ID
	})

	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("archiving audit for %s: %w", day.Format("2006-01-02"), err)
	}
	return nil
}

// ReadDay returns the archived entries for one day, oldest first.
func (a *ParquetArchive) ReadDay(day time.Time) ([]audit.Entry, error) {
	records, err := readParquetFile[AuditRecord](a.dayPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]audit.Entry, 0, len(records))
	for _, r := range records {
		out = append(out, audit.Entry{
			ID:      r.ID,
			Time:    time.UnixMilli(r.Time).UTC(),
			Account: domain.AccountID(r.Account),
			Event:   r.Event,
			Rule:    r.Rule,
			Reason:  r.Reason,
			Action:  r.Action,
			Outcome: r.Outcome,
			Detail:  r.Detail,
		})
	}
	return out, nil
}

func (a *ParquetArchive) dayPath(day time.Time) string {
	return filepath.Join(a.DataDir, "audit", day.Format("2006"), day.Format("2006-01-02")+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
