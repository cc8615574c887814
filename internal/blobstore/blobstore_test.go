package blobstore_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/Lllllllleong/pdfrepartitioner/internal/blobstore"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func newStore(t *testing.T, objects map[string]string) *blobstore.Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	for key, body := range objects {
		require.NoError(t, bucket.WriteAll(context.Background(), key, []byte(body), nil))
	}
	s := blobstore.New(bucket, "mem://")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveSiteAndLibraries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, map[string]string{
		"Documents/in/a.pdf": "a",
		"Archive/b.pdf":      "b",
		"loose.txt":          "c",
	})

	site, err := s.ResolveSite(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, store.SiteID("mem://"), site)

	_, err = s.ResolveSite(ctx, "other")
	assert.True(t, store.IsLookup(err))

	libs, err := s.ListLibraries(ctx, site)
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.Library{
		{ID: "Archive", Name: "Archive"},
		{ID: "Documents", Name: "Documents"},
	}, libs)
}

func TestResolveDownloadURL(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, map[string]string{"Documents/in/a.pdf": "a"})

	url, err := s.ResolveDownloadURL(ctx, "Documents", "/in/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "blob:///Documents/in/a.pdf", url)

	_, err = s.ResolveDownloadURL(ctx, "Documents", "in/missing.pdf")
	var le *store.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, store.CodeItemNotFound, le.Code)
}

func TestRangedGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, map[string]string{"lib/x.bin": "0123456789"})

	data, total, err := s.RangedGet(ctx, "blob:///lib/x.bin", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))
	assert.Equal(t, int64(10), total)

	data, total, err = s.RangedGet(ctx, "blob:///lib/x.bin", 8, 4)
	require.NoError(t, err)
	assert.Equal(t, "89", string(data))
	assert.Equal(t, int64(10), total)

	_, _, err = s.RangedGet(ctx, "blob:///lib/missing.bin", 0, 4)
	assert.True(t, store.IsTransfer(err))

	_, _, err = s.RangedGet(ctx, "gs://lib/x.bin", 0, 4)
	assert.True(t, store.IsLookup(err))
}

func upload(t *testing.T, s *blobstore.Store, path string, body []byte, policy store.ConflictPolicy) (store.UploadResult, []int64, error) {
	t.Helper()
	sess, err := s.CreateUploadSession(context.Background(), "out", path, policy)
	require.NoError(t, err)
	var progress []int64
	res, err := sess.UploadSlices(context.Background(), bytes.NewReader(body), int64(len(body)), 4, func(n, total int64) {
		assert.Equal(t, int64(len(body)), total)
		progress = append(progress, n)
	})
	return res, progress, err
}

func TestUploadSlices(t *testing.T) {
	s := newStore(t, nil)

	res, progress, err := upload(t, s, "parts/part_1.pdf", []byte("0123456789"), store.ConflictReplace)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, []int64{4, 8, 10}, progress)
	assert.Equal(t, "parts/part_1.pdf", res.Item.Path)
	assert.Equal(t, int64(10), res.Item.Size)

	data, _, err := s.RangedGet(context.Background(), "blob:///out/parts/part_1.pdf", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestConflictPolicies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, map[string]string{"out/parts/part_1.pdf": "old"})

	t.Run("replace", func(t *testing.T) {
		res, _, err := upload(t, s, "parts/part_1.pdf", []byte("new"), store.ConflictReplace)
		require.NoError(t, err)
		assert.Equal(t, "parts/part_1.pdf", res.Item.Path)
		data, _, err := s.RangedGet(ctx, "blob:///out/parts/part_1.pdf", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("fail", func(t *testing.T) {
		res, _, err := upload(t, s, "parts/part_1.pdf", []byte("other"), store.ConflictFail)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
		assert.False(t, res.Succeeded)
	})

	t.Run("rename", func(t *testing.T) {
		res, _, err := upload(t, s, "parts/part_1.pdf", []byte("r1"), store.ConflictRename)
		require.NoError(t, err)
		assert.Equal(t, "parts/part_1 (1).pdf", res.Item.Path)

		res, _, err = upload(t, s, "parts/part_1.pdf", []byte("r2"), store.ConflictRename)
		require.NoError(t, err)
		assert.Equal(t, "parts/part_1 (2).pdf", res.Item.Path)
	})
}
