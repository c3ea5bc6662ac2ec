package photos

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// photoServer fakes the ckdatabasews endpoints for one small library.
type photoServer struct {
	mu            sync.Mutex
	srv           *httptest.Server
	indexingState string
	failuresLeft  int // list queries to fail before succeeding
	deletes       []string
	queryCount    int
}

func newPhotoServer(t *testing.T) *photoServer {
	t.Helper()

	ps := &photoServer{indexingState: "FINISHED"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /database/1/com.apple.photos.cloud/production/private/zones/list",
		ps.handleZones)
	mux.HandleFunc("POST /database/1/com.apple.photos.cloud/production/private/records/query",
		ps.handleQuery)
	mux.HandleFunc("POST /database/1/com.apple.photos.cloud/production/private/internal/records/query/batch",
		ps.handleCount)
	mux.HandleFunc("POST /database/1/com.apple.photos.cloud/production/private/records/modify",
		ps.handleModify)

	ps.srv = httptest.NewServer(mux)
	t.Cleanup(ps.srv.Close)

	return ps
}

func (ps *photoServer) service(t *testing.T) *Service {
	t.Helper()

	store, err := session.NewStore(t.TempDir(), "user@example.com", testLogger())
	require.NoError(t, err)

	endpoints := icloud.Endpoints{Auth: ps.srv.URL, Home: ps.srv.URL, Setup: ps.srv.URL}
	client := icloud.NewClient(endpoints, store, "", testLogger())

	return NewService(client, ps.srv.URL, "12345", testLogger())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (ps *photoServer) handleZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"zones": []map[string]any{
			{"zoneID": map[string]any{"zoneName": "PrimarySync"}},
			{"zoneID": map[string]any{"zoneName": "SharedSync-1BD", "zoneType": "REGULAR_CUSTOM_ZONE"}},
		},
	})
}

func fieldVal(v any) map[string]any {
	return map[string]any{"value": v}
}

func masterRecord(name, filename string, size int64) map[string]any {
	return map[string]any{
		"recordName":      name,
		"recordType":      "CPLMaster",
		"recordChangeTag": "tag-" + name,
		"fields": map[string]any{
			"filenameEnc": map[string]any{
				"value": base64.StdEncoding.EncodeToString([]byte(filename)),
				"type":  "ENCRYPTED_BYTES",
			},
			"itemType":       fieldVal("public.jpeg"),
			"resOriginalRes": fieldVal(map[string]any{"size": size, "downloadURL": "https://cvws.example.com/" + name}),
		},
	}
}

func assetRecord(masterName string, assetDate int64) map[string]any {
	return map[string]any{
		"recordName":      "asset-" + masterName,
		"recordType":      "CPLAsset",
		"recordChangeTag": "atag-" + masterName,
		"fields": map[string]any{
			"assetDate": fieldVal(assetDate),
			"masterRef": fieldVal(map[string]any{"recordName": masterName}),
		},
	}
}

func (ps *photoServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var query struct {
		Query struct {
			RecordType string `json:"recordType"`
			FilterBy   []struct {
				FieldName  string `json:"fieldName"`
				FieldValue struct {
					Value json.RawMessage `json:"value"`
				} `json:"fieldValue"`
			} `json:"filterBy"`
		} `json:"query"`
	}
	_ = json.Unmarshal(body, &query)

	switch {
	case query.Query.RecordType == "CheckIndexingState":
		ps.mu.Lock()
		state := ps.indexingState
		ps.mu.Unlock()

		writeJSON(w, map[string]any{
			"records": []map[string]any{{
				"recordName": "idx",
				"recordType": "CheckIndexingState",
				"fields":     map[string]any{"state": fieldVal(state)},
			}},
		})

	case query.Query.RecordType == "CPLAlbumByPositionLive":
		writeJSON(w, map[string]any{
			"records": []map[string]any{
				{"recordName": "----Root-Folder----", "recordType": "CPLAlbum", "fields": map[string]any{
					"albumNameEnc": fieldVal(base64.StdEncoding.EncodeToString([]byte("root"))),
				}},
				{"recordName": "folder-deleted", "recordType": "CPLAlbum", "fields": map[string]any{
					"albumNameEnc": fieldVal(base64.StdEncoding.EncodeToString([]byte("Gone"))),
					"isDeleted":    fieldVal(1),
				}},
				{"recordName": "folder-unnamed", "recordType": "CPLAlbum", "fields": map[string]any{}},
				{"recordName": "folder-vacation", "recordType": "CPLAlbum", "fields": map[string]any{
					"albumNameEnc": fieldVal(base64.StdEncoding.EncodeToString([]byte("Vacation"))),
				}},
			},
		})

	default: // asset list query
		ps.mu.Lock()
		ps.queryCount++

		if ps.failuresLeft > 0 {
			ps.failuresLeft--
			ps.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"serverErrorCode":"INTERNAL_ERROR","reason":"INTERNAL_ERROR"}`))

			return
		}
		ps.mu.Unlock()

		var offset int64
		for _, f := range query.Query.FilterBy {
			if f.FieldName == "startRank" {
				_ = json.Unmarshal(f.FieldValue.Value, &offset)
			}
		}

		var records []map[string]any

		switch offset {
		case 0:
			records = []map[string]any{
				masterRecord("m1", "IMG_0001.JPG", 100),
				assetRecord("m1", 1721390400000),
				masterRecord("m2", "IMG_0002.JPG", 200),
				assetRecord("m2", 1721390500000),
			}
		case 2:
			records = []map[string]any{
				masterRecord("m3", "IMG_0003.JPG", 300),
				assetRecord("m3", 1721390600000),
			}
		}

		writeJSON(w, map[string]any{"records": records})
	}
}

func (ps *photoServer) handleCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"batch": []map[string]any{{
			"records": []map[string]any{{
				"recordName": "count",
				"recordType": "HyperionIndexCountLookup",
				"fields":     map[string]any{"itemCount": fieldVal(3)},
			}},
		}},
	})
}

func (ps *photoServer) handleModify(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	ps.mu.Lock()
	ps.deletes = append(ps.deletes, string(body))
	ps.mu.Unlock()

	writeJSON(w, map[string]any{"records": []map[string]any{}})
}

func TestServiceLibraries(t *testing.T) {
	ps := newPhotoServer(t)
	svc := ps.service(t)

	libraries, err := svc.Libraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libraries, 2)
	assert.Contains(t, libraries, "PrimarySync")
	assert.Contains(t, libraries, "SharedSync-1BD")

	lib, err := svc.Library(context.Background(), "PrimarySync")
	require.NoError(t, err)
	assert.Equal(t, "PrimarySync", lib.Name())

	_, err = svc.Library(context.Background(), "Nope")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestLibraryIndexReady(t *testing.T) {
	ps := newPhotoServer(t)
	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	assert.NoError(t, lib.IndexReady(context.Background()))

	ps.mu.Lock()
	ps.indexingState = "RUNNING"
	ps.mu.Unlock()

	assert.ErrorIs(t, lib.IndexReady(context.Background()), ErrNotIndexed)
}

func TestLibraryAlbums(t *testing.T) {
	ps := newPhotoServer(t)
	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	albums, err := lib.Albums(context.Background())
	require.NoError(t, err)

	// All smart albums plus the one valid user folder.
	assert.Len(t, albums, len(smartFolders)+1)
	assert.Contains(t, albums, AlbumAll)
	assert.Contains(t, albums, AlbumRecentlyDeleted)
	assert.Contains(t, albums, "Vacation")
	assert.NotContains(t, albums, "Gone")
	assert.NotContains(t, albums, "root")

	vacation := albums["Vacation"]
	assert.Equal(t, "CPLContainerRelationLiveByAssetDate", vacation.listType)
	assert.True(t, strings.HasSuffix(vacation.objType, ":folder-vacation"))

	names, err := lib.AlbumNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(albums), len(names))
	assert.True(t, sortedStrings(names))
}

func sortedStrings(ss []string) bool {
	for i := 1; i < len(ss); i++ {
		if ss[i-1] > ss[i] {
			return false
		}
	}

	return true
}

func TestAlbumCountCached(t *testing.T) {
	ps := newPhotoServer(t)
	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	album, err := lib.Album(context.Background(), AlbumAll)
	require.NoError(t, err)

	n, err := album.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Cached; no second request issued.
	n, err = album.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAlbumIterationPaginates(t *testing.T) {
	ps := newPhotoServer(t)
	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	album, err := lib.Album(context.Background(), AlbumAll)
	require.NoError(t, err)

	iter, err := album.Photos(context.Background(), nil)
	require.NoError(t, err)

	var names []string

	for {
		asset, ok, err := iter.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		names = append(names, asset.Filename())
	}

	assert.Equal(t, []string{"IMG_0001.JPG", "IMG_0002.JPG", "IMG_0003.JPG"}, names)
}

func TestAlbumIterationRetriesThroughHandler(t *testing.T) {
	ps := newPhotoServer(t)
	ps.failuresLeft = 2

	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	album, err := lib.Album(context.Background(), AlbumAll)
	require.NoError(t, err)

	var handled int
	iter, err := album.Photos(context.Background(), func(err error, attempt int) error {
		handled++
		assert.True(t, icloud.IsInternalError(err))

		return nil
	})
	require.NoError(t, err)

	asset, ok, err := iter.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "IMG_0001.JPG", asset.Filename())
	assert.Equal(t, 2, handled)
}

func TestAlbumIterationFailsWithoutHandler(t *testing.T) {
	ps := newPhotoServer(t)
	ps.failuresLeft = 1

	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	album, err := lib.Album(context.Background(), AlbumAll)
	require.NoError(t, err)

	iter, err := album.Photos(context.Background(), nil)
	require.NoError(t, err)

	_, _, err = iter.Next(context.Background())
	require.Error(t, err)
	assert.True(t, icloud.IsInternalError(err))
}

func TestLibraryDelete(t *testing.T) {
	ps := newPhotoServer(t)
	lib, err := ps.service(t).Library(context.Background(), "PrimarySync")
	require.NoError(t, err)

	album, err := lib.Album(context.Background(), AlbumAll)
	require.NoError(t, err)

	iter, err := album.Photos(context.Background(), nil)
	require.NoError(t, err)

	asset, ok, err := iter.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lib.Delete(context.Background(), asset))

	ps.mu.Lock()
	defer ps.mu.Unlock()

	require.Len(t, ps.deletes, 1)
	assert.Contains(t, ps.deletes[0], `"isDeleted":{"value":1}`)
	assert.Contains(t, ps.deletes[0], `"recordName":"asset-m1"`)
	assert.Contains(t, ps.deletes[0], `"atomic":true`)
}

func TestServiceDownloadStreams(t *testing.T) {
	ps := newPhotoServer(t)
	svc := ps.service(t)

	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer fileSrv.Close()

	resp, err := svc.Download(context.Background(), Version{URL: fileSrv.URL + "/x"}, 0)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))

	_, err = svc.Download(context.Background(), Version{}, 0)
	assert.Error(t, err)
}
