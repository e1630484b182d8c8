package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/storage"
	"github.com/JakeFAU/crawl-recorder/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seededStore(t *testing.T) *memory.RecordStore {
	t.Helper()
	store := memory.NewRecordStore(nil)
	for _, url := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		_, err := store.Insert(context.Background(), crawler.NewRecord{
			URL:        url,
			StatusCode: 200,
			Content:    "# " + url,
			Headers:    json.RawMessage(`{"title":"t"}`),
		})
		require.NoError(t, err)
	}
	return store
}

func readLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRunWritesSummaries(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	exp := New(seededStore(t), blobs, fixedClock{now: at}, nil)

	res, err := exp.Run(context.Background(), Options{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Records)
	require.True(t, strings.HasPrefix(res.Object, "crawled_pages-20240501T123000Z-"))
	require.Equal(t, "memory://"+res.Object, res.URI)

	obj, ok := blobs.Object(res.Object)
	require.True(t, ok)
	require.Equal(t, ContentType, obj.ContentType)
	lines := readLines(t, obj.Data)
	require.Len(t, lines, 2)
	require.Equal(t, "https://c.example", lines[0]["url"])
	require.NotContains(t, lines[0], "content")
}

func TestRunFullIncludesContent(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	exp := New(seededStore(t), blobs, nil, nil)

	res, err := exp.Run(context.Background(), Options{Limit: 10, Full: true})
	require.NoError(t, err)
	require.Equal(t, 3, res.Records)

	obj, _ := blobs.Object(res.Object)
	lines := readLines(t, obj.Data)
	require.Equal(t, "# https://c.example", lines[0]["content"])
	require.Equal(t, map[string]any{"title": "t"}, lines[0]["headers"])
}

func TestRunPropagatesBlobErrors(t *testing.T) {
	t.Parallel()

	blobs := &storage.MockBlobStore{}
	blobs.On("PutObject", mock.Anything, mock.AnythingOfType("string"), ContentType, mock.AnythingOfType("string")).
		Return("", errors.New("bucket missing"))

	exp := New(seededStore(t), blobs, nil, nil)
	_, err := exp.Run(context.Background(), Options{Limit: 1})
	require.ErrorContains(t, err, "bucket missing")
	blobs.AssertExpectations(t)
}

func TestRunRejectsZeroLimit(t *testing.T) {
	t.Parallel()

	exp := New(seededStore(t), memory.NewBlobStore(), nil, nil)
	_, err := exp.Run(context.Background(), Options{})
	require.Error(t, err)
}
