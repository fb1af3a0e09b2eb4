package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// ArchiverName is the job name the archiver registers under.
const ArchiverName = "archiver"

// SnapshotSource is the read side of the ledger the archiver copies.
type SnapshotSource interface {
	Portfolio() domain.Portfolio
	Stats() domain.Stats
	EquityCurve() []domain.EquityPoint
	OpenPositions() []domain.Position
	History(limit int) []domain.Position
}

// Snapshot is the JSON document written on every archiver run.
type Snapshot struct {
	TakenAt       time.Time            `json:"taken_at"`
	Portfolio     domain.Portfolio     `json:"portfolio"`
	Stats         domain.Stats         `json:"stats"`
	EquityCurve   []domain.EquityPoint `json:"equity_curve"`
	OpenPositions []domain.Position    `json:"open_positions"`
}

// Archiver is a scheduled job that uploads a portfolio snapshot and the
// recent trade history to object storage. Nothing is deleted from the
// primary store.
type Archiver struct {
	writer       domain.BlobWriter
	source       SnapshotSource
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates an Archiver. historyLimit caps the trades copied per
// run; zero copies all of them.
func NewArchiver(writer domain.BlobWriter, source SnapshotSource, historyLimit int, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:       writer,
		source:       source,
		historyLimit: historyLimit,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          time.Now,
	}
}

// Name implements engine.Job.
func (a *Archiver) Name() string { return ArchiverName }

// Run uploads snapshots/YYYY/MM/DD/<unix>.json and, when there is any
// history, the matching <unix>-trades.jsonl.
func (a *Archiver) Run(ctx context.Context) error {
	at := a.now().UTC()
	snap := Snapshot{
		TakenAt:       at,
		Portfolio:     a.source.Portfolio(),
		Stats:         a.source.Stats(),
		EquityCurve:   a.source.EquityCurve(),
		OpenPositions: a.source.OpenPositions(),
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}
	base := snapshotPath(at)
	if err := a.writer.Put(ctx, base+".json", bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload snapshot: %w", err)
	}

	trades := a.source.History(a.historyLimit)
	if len(trades) > 0 {
		buf, err := marshalJSONL(trades)
		if err != nil {
			return fmt.Errorf("s3blob: marshal trades: %w", err)
		}
		if err := a.writer.Put(ctx, base+"-trades.jsonl", bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return fmt.Errorf("s3blob: upload trades: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "archiver: snapshot uploaded",
		slog.String("path", base+".json"),
		slog.Int("trades", len(trades)),
		slog.Float64("balance", snap.Portfolio.Balance),
	)
	return nil
}

// snapshotPath builds the key prefix for a snapshot, partitioned by day.
//
//	snapshots/2025/06/02/1748858400
func snapshotPath(at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%d", at.Format("2006/01/02"), at.Unix())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
