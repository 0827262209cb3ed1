package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/store/memory"
)

// fakeBlob is an in-memory object store standing in for the bucket.
type fakeBlob struct {
	objects map[string][]byte
	dropPut bool // accept the Put but never store the object
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if !f.dropPut {
		f.objects[path] = buf
	}
	return nil
}

func (f *fakeBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (f *fakeBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, buf := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(buf))})
		}
	}
	return infos, nil
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func seedSettledMarket(t *testing.T, stores *memory.Stores, key uint64, resolvedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	m := domain.Market{
		MarketKey:   key,
		Creator:     "alice",
		Title:       "Will it rain tomorrow?",
		Status:      domain.MarketStatusSuccess,
		SuccessTime: resolvedAt,
	}
	as := domain.AnswerSet{MarketKey: key, Answers: []domain.Answer{{AnswerKey: 1, TotalTokens: 100}}}
	require.NoError(t, stores.Markets.Create(ctx, m, as))
	require.NoError(t, stores.Bets.Upsert(ctx, domain.Bet{
		Voter: "bob", MarketKey: key, AnswerKey: 1, Tokens: 100, Exists: true,
	}))
}

func TestArchiveSettledMarkets(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	blob := newFakeBlob()

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedSettledMarket(t, stores, 1, cutoff.Add(-48*time.Hour))
	seedSettledMarket(t, stores, 2, cutoff.Add(48*time.Hour)) // too recent

	arch := NewArchiver(blob, blob, stores.Markets, stores.Bets)
	n, err := arch.ArchiveSettledMarkets(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	buf, ok := blob.objects["archive/markets/2025-06.jsonl"]
	require.True(t, ok)
	line := string(buf)
	assert.Contains(t, line, `"MarketKey":1`)
	assert.Contains(t, line, `"Voter":"bob"`)
	assert.NotContains(t, line, `"MarketKey":2`)
}

func TestArchiveSettledMarketsNothingToDo(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	blob := newFakeBlob()

	arch := NewArchiver(blob, blob, stores.Markets, stores.Bets)
	n, err := arch.ArchiveSettledMarkets(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchiveSettledMarketsVerifiesUpload(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	blob := newFakeBlob()
	blob.dropPut = true

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedSettledMarket(t, stores, 1, cutoff.Add(-48*time.Hour))

	arch := NewArchiver(blob, blob, stores.Markets, stores.Bets)
	_, err := arch.ArchiveSettledMarkets(ctx, cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing after upload")
}
