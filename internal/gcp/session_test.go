package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

////////////////////////////////////////////////////////////////////////////////
// GCS FAKE

// fakeGCS answers the JSON API calls the store makes: bucket and object
// metadata, media reads, and multipart or resumable uploads.
type fakeGCS struct {
	mu       sync.Mutex
	url      string
	buckets  []string
	objects  map[string][]byte
	sessions map[string]*gcsUpload
	uploads  []string
}

type gcsUpload struct {
	object      string
	ifNotExists bool
	data        []byte
}

func newFakeGCS(t *testing.T, objects map[string][]byte) (*fakeGCS, *Store) {
	t.Helper()
	f := &fakeGCS{buckets: []string{"docs", "parts"}, objects: objects, sessions: map[string]*gcsUpload{}}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	f.url = srv.URL

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		storage.WithJSONReads(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return f, NewStore(client)
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	switch {
	case r.Method == http.MethodGet && p == "/storage/v1/b":
		var items []map[string]string
		for _, b := range f.buckets {
			items = append(items, map[string]string{"name": b})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case strings.HasPrefix(p, "/storage/v1/b/"):
		bucket, object, hasObject := strings.Cut(strings.TrimPrefix(p, "/storage/v1/b/"), "/o/")
		if !f.hasBucket(bucket) {
			writeGCSError(w, http.StatusNotFound, "bucket not found")
			return
		}
		if !hasObject {
			writeJSON(w, http.StatusOK, map[string]string{"kind": "storage#bucket", "name": bucket})
			return
		}
		data, ok := f.objects[bucket+"/"+object]
		if !ok {
			writeGCSError(w, http.StatusNotFound, "object not found")
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			f.serveMedia(w, r, data)
			return
		}
		writeJSON(w, http.StatusOK, objectJSON(bucket, object, data))
	case r.Method == http.MethodPost && strings.HasPrefix(p, "/upload/storage/v1/b/"):
		bucket := strings.TrimSuffix(strings.TrimPrefix(p, "/upload/storage/v1/b/"), "/o")
		f.startUpload(w, r, bucket)
	case r.Method == http.MethodPut && strings.HasPrefix(p, "/resumable/"):
		f.uploadChunk(w, r, strings.TrimPrefix(p, "/resumable/"))
	default:
		writeGCSError(w, http.StatusNotImplemented, r.Method+" "+p)
	}
}

func (f *fakeGCS) hasBucket(name string) bool {
	for _, b := range f.buckets {
		if b == name {
			return true
		}
	}
	return false
}

func (f *fakeGCS) serveMedia(w http.ResponseWriter, r *http.Request, data []byte) {
	start, end := 0, len(data)-1
	if rng := r.Header.Get("Range"); rng != "" {
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		end = min(end, len(data)-1)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	}
	w.Header().Set("X-Goog-Generation", "1")
	w.Header().Set("X-Goog-Metageneration", "1")
	w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
	if r.Header.Get("Range") != "" {
		w.WriteHeader(http.StatusPartialContent)
	}
	w.Write(data[start : end+1])
}

func (f *fakeGCS) startUpload(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	upload := &gcsUpload{ifNotExists: q.Get("ifGenerationMatch") == "0"}

	var meta struct {
		Name string `json:"name"`
	}
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/related" {
		mr := multipart.NewReader(r.Body, params["boundary"])
		if part, err := mr.NextPart(); err == nil {
			_ = json.NewDecoder(part).Decode(&meta)
		}
		if part, err := mr.NextPart(); err == nil {
			upload.data, _ = io.ReadAll(part)
		}
	} else {
		_ = json.NewDecoder(r.Body).Decode(&meta)
	}
	if meta.Name == "" {
		meta.Name = q.Get("name")
	}
	upload.object = bucket + "/" + meta.Name

	if q.Get("uploadType") == "resumable" {
		id := strconv.Itoa(len(f.sessions) + 1)
		f.sessions[id] = upload
		w.Header().Set("Location", f.url+"/resumable/"+id)
		w.WriteHeader(http.StatusOK)
		return
	}
	f.finishUpload(w, upload)
}

func (f *fakeGCS) uploadChunk(w http.ResponseWriter, r *http.Request, id string) {
	upload, ok := f.sessions[id]
	if !ok {
		writeGCSError(w, http.StatusNotFound, "no such upload")
		return
	}
	chunk, _ := io.ReadAll(r.Body)
	upload.data = append(upload.data, chunk...)
	if strings.HasSuffix(r.Header.Get("Content-Range"), "/*") {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(upload.data)-1))
		w.WriteHeader(308)
		return
	}
	f.finishUpload(w, upload)
}

func (f *fakeGCS) finishUpload(w http.ResponseWriter, upload *gcsUpload) {
	if _, exists := f.objects[upload.object]; exists && upload.ifNotExists {
		writeGCSError(w, http.StatusPreconditionFailed, "At least one of the pre-conditions you specified did not hold.")
		return
	}
	f.objects[upload.object] = upload.data
	f.uploads = append(f.uploads, upload.object)
	bucket, object, _ := strings.Cut(upload.object, "/")
	writeJSON(w, http.StatusOK, objectJSON(bucket, object, upload.data))
}

func objectJSON(bucket, object string, data []byte) map[string]string {
	return map[string]string{
		"kind":           "storage#object",
		"bucket":         bucket,
		"name":           object,
		"size":           strconv.Itoa(len(data)),
		"etag":           "CAE=",
		"generation":     "1",
		"metageneration": "1",
		"contentType":    "application/pdf",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGCSError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": message}})
}

func uploadTo(t *testing.T, s *Store, itemPath string, body []byte, sliceSize int64, policy store.ConflictPolicy) (store.UploadResult, []int64, error) {
	t.Helper()
	sess, err := s.CreateUploadSession(context.Background(), "parts", itemPath, policy)
	require.NoError(t, err)
	var progress []int64
	res, err := sess.UploadSlices(context.Background(), bytes.NewReader(body), int64(len(body)), sliceSize, func(n, total int64) {
		assert.Equal(t, int64(len(body)), total)
		progress = append(progress, n)
	})
	return res, progress, err
}

////////////////////////////////////////////////////////////////////////////////
// TESTS

func TestStoreLookups(t *testing.T) {
	_, s := newFakeGCS(t, map[string][]byte{"docs/in/doc.pdf": []byte("0123456789")})
	ctx := context.Background()

	site, err := s.ResolveSite(ctx, "projects/proj")
	require.NoError(t, err)
	assert.Equal(t, store.SiteID("proj"), site)

	libs, err := s.ListLibraries(ctx, site)
	require.NoError(t, err)
	assert.Equal(t, []store.Library{{ID: "docs", Name: "docs"}, {ID: "parts", Name: "parts"}}, libs)

	url, err := s.ResolveDownloadURL(ctx, "docs", "/in/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "gs://docs/in/doc.pdf", url)

	_, err = s.ResolveDownloadURL(ctx, "docs", "in/missing.pdf")
	var le *store.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, store.CodeItemNotFound, le.Code)

	_, err = s.CreateUploadSession(ctx, "nobucket", "x.pdf", store.ConflictReplace)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, store.CodeLibraryNotFound, le.Code)
}

func TestStoreRangedGet(t *testing.T) {
	_, s := newFakeGCS(t, map[string][]byte{"docs/in/doc.pdf": []byte("0123456789")})
	ctx := context.Background()

	data, total, err := s.RangedGet(ctx, "gs://docs/in/doc.pdf", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))
	assert.Equal(t, int64(10), total)

	_, _, err = s.RangedGet(ctx, "gs://docs/in/missing.pdf", 0, 4)
	assert.True(t, store.IsTransfer(err))
}

func TestUploadSlicesSingleRequest(t *testing.T) {
	f, s := newFakeGCS(t, nil)

	res, progress, err := uploadTo(t, s, "dir/part_1.pdf", []byte("0123456789"), 1, store.ConflictReplace)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, store.ItemRef{Library: "parts", Path: "dir/part_1.pdf", ETag: "CAE=", Size: 10}, res.Item)
	assert.Equal(t, int64(10), progress[len(progress)-1])
	assert.Equal(t, []byte("0123456789"), f.objects["parts/dir/part_1.pdf"])
}

func TestUploadSlicesResumableChunks(t *testing.T) {
	f, s := newFakeGCS(t, nil)
	body := bytes.Repeat([]byte("z"), chunkAlign+4096)

	res, progress, err := uploadTo(t, s, "dir/part_1.pdf", body, chunkAlign, store.ConflictReplace)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, int64(len(body)), res.Item.Size)
	assert.Equal(t, int64(len(body)), progress[len(progress)-1])
	assert.Equal(t, body, f.objects["parts/dir/part_1.pdf"])
}

func TestUploadSlicesFailPolicy(t *testing.T) {
	f, s := newFakeGCS(t, map[string][]byte{"parts/dir/part_1.pdf": []byte("old")})

	res, _, err := uploadTo(t, s, "dir/part_1.pdf", []byte("new"), chunkAlign, store.ConflictFail)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.False(t, res.Succeeded)
	assert.Equal(t, []byte("old"), f.objects["parts/dir/part_1.pdf"])

	res, _, err = uploadTo(t, s, "dir/part_2.pdf", []byte("new"), chunkAlign, store.ConflictFail)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
}

func TestUploadSlicesRename(t *testing.T) {
	f, s := newFakeGCS(t, map[string][]byte{
		"parts/dir/part_1.pdf":     []byte("old"),
		"parts/dir/part_1 (1).pdf": []byte("old"),
	})

	res, _, err := uploadTo(t, s, "dir/part_1.pdf", []byte("new"), chunkAlign, store.ConflictRename)
	require.NoError(t, err)
	assert.Equal(t, "dir/part_1 (2).pdf", res.Item.Path)
	assert.Equal(t, []string{"parts/dir/part_1 (2).pdf"}, f.uploads)
}
