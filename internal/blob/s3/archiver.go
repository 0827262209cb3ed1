package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitpredict/engine/internal/domain"
)

// settledStatuses are the terminal market states eligible for archival.
var settledStatuses = []domain.MarketStatus{
	domain.MarketStatusSuccess,
	domain.MarketStatusAdjourn,
}

// archivedMarket is the JSONL record uploaded per settled market: the market
// itself plus its full bet list, so a cold-storage file is self-contained.
type archivedMarket struct {
	Market domain.Market `json:"market"`
	Bets   []domain.Bet  `json:"bets"`
}

// ArchiveImpl implements domain.Archiver by querying settled markets,
// serializing each with its bets to JSONL, and uploading the result to
// object storage. Each upload is read back via the reader before the batch
// counts as archived.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to run after the
// archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets domain.MarketStore
	bets    domain.BetStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, markets domain.MarketStore, bets domain.BetStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, markets: markets, bets: bets}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveSettledMarkets uploads every Success or Adjourn market resolved
// strictly before the cutoff, together with its bets, to
// archive/markets/YYYY-MM.jsonl. Returns the number of markets archived.
func (a *ArchiveImpl) ArchiveSettledMarkets(ctx context.Context, before time.Time) (int64, error) {
	var records []archivedMarket

	for _, status := range settledStatuses {
		markets, err := a.markets.ListByStatus(ctx, status, domain.ListOpts{})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive query %s markets: %w", status, err)
		}
		for _, m := range markets {
			if !resolvedBefore(m, before) {
				continue
			}
			bets, err := a.bets.ListByMarket(ctx, m.MarketKey, domain.ListOpts{})
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive query bets for market %d: %w", m.MarketKey, err)
			}
			records = append(records, archivedMarket{Market: m, Bets: bets})
		}
	}

	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	// Rows may be pruned once a batch is reported archived, so confirm the
	// object actually landed before counting it.
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive verify %s: %w", path, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive verify %s: object missing after upload", path)
	}
	return int64(len(records)), nil
}

func resolvedBefore(m domain.Market, before time.Time) bool {
	switch m.Status {
	case domain.MarketStatusSuccess:
		return m.SuccessTime.Before(before)
	case domain.MarketStatusAdjourn:
		return m.AdjournTime.Before(before)
	default:
		return false
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
