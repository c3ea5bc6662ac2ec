package photos

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
)

// System container records excluded from album listings.
const (
	rootFolderRecord        = "----Root-Folder----"
	projectRootFolderRecord = "----Project-Root-Folder----"
)

// defaultPageSize is the number of masters requested per iteration page.
// The query asks for twice this so each page carries asset+master pairs.
const defaultPageSize = 100

// AlbumAll is the smart album covering the whole library.
const AlbumAll = "All Photos"

// AlbumRecentlyDeleted holds assets pending permanent removal; the
// auto-delete pass walks it.
const AlbumRecentlyDeleted = "Recently Deleted"

// filterClause is one records/query filter term.
type filterClause struct {
	FieldName  string      `json:"fieldName"`
	Comparator string      `json:"comparator"`
	FieldValue filterValue `json:"fieldValue"`
}

type filterValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// smartAlbumFilter builds the filter selecting one smart-album bucket.
func smartAlbumFilter(value string) []filterClause {
	return []filterClause{{
		FieldName:  "smartAlbum",
		Comparator: "EQUALS",
		FieldValue: filterValue{Type: "STRING", Value: value},
	}}
}

// albumSpec is the static description of a smart album.
type albumSpec struct {
	objType   string
	listType  string
	direction string
	filter    []filterClause
}

// smartFolders is the fixed table of server-side smart albums.
var smartFolders = map[string]albumSpec{
	AlbumAll: {
		objType:   "CPLAssetByAddedDate",
		listType:  "CPLAssetAndMasterByAddedDate",
		direction: "ASCENDING",
	},
	"Time-lapse": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Timelapse",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("TIMELAPSE"),
	},
	"Videos": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Video",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("VIDEO"),
	},
	"Slo-mo": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Slomo",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("SLOMO"),
	},
	"Bursts": {
		objType:   "CPLAssetBurstStackAssetByAssetDate",
		listType:  "CPLBurstStackAssetAndMasterByAssetDate",
		direction: "ASCENDING",
	},
	"Favorites": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Favorite",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("FAVORITE"),
	},
	"Panoramas": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Panorama",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("PANORAMA"),
	},
	"Screenshots": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Screenshot",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("SCREENSHOT"),
	},
	"Live": {
		objType:   "CPLAssetInSmartAlbumByAssetDate:Live",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		direction: "ASCENDING",
		filter:    smartAlbumFilter("LIVE"),
	},
	AlbumRecentlyDeleted: {
		objType:   "CPLAssetDeletedByExpungedDate",
		listType:  "CPLAssetAndMasterDeletedByExpungedDate",
		direction: "ASCENDING",
	},
	"Hidden": {
		objType:   "CPLAssetHiddenByAssetDate",
		listType:  "CPLAssetAndMasterHiddenByAssetDate",
		direction: "ASCENDING",
	},
}

// Album is one queryable asset collection, either a smart album or a user
// folder.
type Album struct {
	library *Library
	name    string

	objType   string
	listType  string
	direction string
	filter    []filterClause
	pageSize  int

	count   int
	counted bool
}

// Name returns the album's display name.
func (a *Album) Name() string {
	return a.name
}

// Albums returns every album in the library: the fixed smart albums merged
// with the user's folders, keyed by name.
func (l *Library) Albums(ctx context.Context) (map[string]*Album, error) {
	albums := make(map[string]*Album, len(smartFolders))

	for name, spec := range smartFolders {
		albums[name] = &Album{
			library:   l,
			name:      name,
			objType:   spec.objType,
			listType:  spec.listType,
			direction: spec.direction,
			filter:    spec.filter,
			pageSize:  defaultPageSize,
		}
	}

	folders, err := l.fetchFolders(ctx)
	if err != nil {
		return nil, err
	}

	for _, folder := range folders {
		album, ok := l.folderAlbum(folder)
		if ok {
			albums[album.name] = album
		}
	}

	return albums, nil
}

// Album resolves one album by name.
func (l *Library) Album(ctx context.Context, name string) (*Album, error) {
	albums, err := l.Albums(ctx)
	if err != nil {
		return nil, err
	}

	album, ok := albums[name]
	if !ok {
		return nil, fmt.Errorf("photos: album %q: %w", name, ErrAlbumNotFound)
	}

	return album, nil
}

// AlbumNames returns the sorted names of every album, for listings.
func (l *Library) AlbumNames(ctx context.Context) ([]string, error) {
	albums, err := l.Albums(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(albums))
	for name := range albums {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// fetchFolders queries the user's folder records.
func (l *Library) fetchFolders(ctx context.Context) ([]Record, error) {
	resp, err := l.service.post(ctx, "/records/query", map[string]any{
		"query":  map[string]any{"recordType": "CPLAlbumByPositionLive"},
		"zoneID": l.zone,
	})
	if err != nil {
		return nil, fmt.Errorf("photos: fetching folders: %w", err)
	}

	var result struct {
		Records []Record `json:"records"`
	}
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}

	return result.Records, nil
}

// folderAlbum converts a folder record into an Album, skipping system
// roots, deleted folders, and records without a usable name.
func (l *Library) folderAlbum(folder Record) (*Album, bool) {
	if folder.RecordName == rootFolderRecord || folder.RecordName == projectRootFolderRecord {
		return nil, false
	}

	if deleted, ok := folder.BoolField("isDeleted"); ok && deleted {
		return nil, false
	}

	nameEnc, ok := folder.StringField("albumNameEnc")
	if !ok {
		return nil, false
	}

	nameBytes, err := base64.StdEncoding.DecodeString(nameEnc)
	if err != nil {
		l.service.logger.Warn("skipping folder with undecodable name",
			slog.String("record", folder.RecordName),
		)

		return nil, false
	}

	return &Album{
		library:   l,
		name:      string(nameBytes),
		objType:   "CPLContainerRelationNotDeletedByAssetDate:" + folder.RecordName,
		listType:  "CPLContainerRelationLiveByAssetDate",
		direction: "ASCENDING",
		filter: []filterClause{{
			FieldName:  "parentId",
			Comparator: "EQUALS",
			FieldValue: filterValue{Type: "STRING", Value: folder.RecordName},
		}},
		pageSize: defaultPageSize,
	}, true
}

// Count returns the album's asset count via the index-count lookup. Cached
// after the first call; the library may mutate mid-scan, so the count is a
// hint rather than a guarantee.
func (a *Album) Count(ctx context.Context) (int, error) {
	if a.counted {
		return a.count, nil
	}

	payload := map[string]any{
		"batch": []map[string]any{{
			"resultsLimit": 1,
			"query": map[string]any{
				"filterBy": filterClause{
					FieldName:  "indexCountID",
					Comparator: "IN",
					FieldValue: filterValue{Type: "STRING_LIST", Value: []string{a.objType}},
				},
				"recordType": "HyperionIndexCountLookup",
			},
			"zoneWide": true,
			"zoneID":   a.library.zone,
		}},
	}

	resp, err := a.library.service.post(ctx, "/internal/records/query/batch", payload)
	if err != nil {
		return 0, fmt.Errorf("photos: counting album %q: %w", a.name, err)
	}

	var result struct {
		Batch []struct {
			Records []Record `json:"records"`
		} `json:"batch"`
	}
	if err := resp.JSON(&result); err != nil {
		return 0, err
	}

	if len(result.Batch) == 0 || len(result.Batch[0].Records) == 0 {
		return 0, fmt.Errorf("photos: count lookup for %q returned no records", a.name)
	}

	count, ok := result.Batch[0].Records[0].Int64Field("itemCount")
	if !ok {
		return 0, fmt.Errorf("photos: count lookup for %q has no itemCount", a.name)
	}

	a.count = int(count)
	a.counted = true

	return a.count, nil
}
