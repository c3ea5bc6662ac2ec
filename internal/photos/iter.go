package photos

import (
	"context"
	"fmt"
	"log/slog"
)

// maxQueryRetries bounds how often a failing page query is retried through
// the caller-supplied handler before the error propagates.
const maxQueryRetries = 5

// desiredKeys is the full field set requested per page: every version
// resource, item metadata, and bookkeeping fields.
var desiredKeys = []string{
	"resJPEGFullWidth", "resJPEGFullHeight", "resJPEGFullFileType",
	"resJPEGFullFingerprint", "resJPEGFullRes",
	"resJPEGLargeWidth", "resJPEGLargeHeight", "resJPEGLargeFileType",
	"resJPEGLargeFingerprint", "resJPEGLargeRes",
	"resJPEGMedWidth", "resJPEGMedHeight", "resJPEGMedFileType",
	"resJPEGMedFingerprint", "resJPEGMedRes",
	"resJPEGThumbWidth", "resJPEGThumbHeight", "resJPEGThumbFileType",
	"resJPEGThumbFingerprint", "resJPEGThumbRes",
	"resVidFullWidth", "resVidFullHeight", "resVidFullFileType",
	"resVidFullFingerprint", "resVidFullRes",
	"resVidMedWidth", "resVidMedHeight", "resVidMedFileType",
	"resVidMedFingerprint", "resVidMedRes",
	"resVidSmallWidth", "resVidSmallHeight", "resVidSmallFileType",
	"resVidSmallFingerprint", "resVidSmallRes",
	"resSidecarWidth", "resSidecarHeight", "resSidecarFileType",
	"resSidecarFingerprint", "resSidecarRes",
	"itemType", "dataClassType", "filenameEnc", "originalOrientation",
	"resOriginalWidth", "resOriginalHeight", "resOriginalFileType",
	"resOriginalFingerprint", "resOriginalRes",
	"resOriginalAltWidth", "resOriginalAltHeight", "resOriginalAltFileType",
	"resOriginalAltFingerprint", "resOriginalAltRes",
	"resOriginalVidComplWidth", "resOriginalVidComplHeight",
	"resOriginalVidComplFileType", "resOriginalVidComplFingerprint",
	"resOriginalVidComplRes",
	"isDeleted", "isExpunged", "dateExpunged", "remappedRef",
	"recordName", "recordType", "recordChangeTag", "masterRef",
	"adjustmentRenderType", "assetDate", "addedDate", "isFavorite",
	"isHidden", "orientation", "duration", "assetSubtype", "assetSubtypeV2",
	"assetHDRType", "burstFlags", "burstFlagsExt", "burstId", "captionEnc",
	"locationEnc", "locationV2Enc", "locationLatitude", "locationLongitude",
	"adjustmentType", "timeZoneOffset", "vidComplDurValue",
	"vidComplDurScale", "vidComplDispValue", "vidComplDispScale",
	"vidComplVisibilityState", "customRenderedValue", "containerId",
	"itemId", "position", "isKeyAsset",
}

// listQuery builds one page query at the given start rank.
func (a *Album) listQuery(offset int) map[string]any {
	filters := []filterClause{
		{
			FieldName:  "startRank",
			Comparator: "EQUALS",
			FieldValue: filterValue{Type: "INT64", Value: offset},
		},
		{
			FieldName:  "direction",
			Comparator: "EQUALS",
			FieldValue: filterValue{Type: "STRING", Value: a.direction},
		},
	}
	filters = append(filters, a.filter...)

	return map[string]any{
		"query": map[string]any{
			"filterBy":   filters,
			"recordType": a.listType,
		},
		"resultsLimit": a.pageSize * 2,
		"desiredKeys":  desiredKeys,
		"zoneID":       a.library.zone,
	}
}

// RetryHandler is consulted when a page query fails. Returning nil retries
// the same page; returning an error aborts iteration with it. attempt
// counts from 1.
type RetryHandler func(err error, attempt int) error

// AssetIter walks an album page by page, yielding assets lazily so large
// libraries never materialize in memory.
type AssetIter struct {
	album   *Album
	offset  int
	buf     []*Asset
	done    bool
	retries int
	onError RetryHandler
}

// Photos begins iteration in the album's configured direction. Descending
// albums need the count first to find the starting rank.
func (a *Album) Photos(ctx context.Context, onError RetryHandler) (*AssetIter, error) {
	offset := 0

	if a.direction == "DESCENDING" {
		count, err := a.Count(ctx)
		if err != nil {
			return nil, err
		}

		offset = count - 1
	}

	return &AssetIter{album: a, offset: offset, onError: onError}, nil
}

// Next returns the next asset. The second result is false when the album is
// exhausted.
func (it *AssetIter) Next(ctx context.Context) (*Asset, bool, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, false, nil
		}

		if err := it.fetchPage(ctx); err != nil {
			return nil, false, err
		}
	}

	asset := it.buf[0]
	it.buf = it.buf[1:]

	return asset, true, nil
}

// fetchPage loads the next page into the buffer, applying the retry handler
// on errors. An empty page ends the iteration.
func (it *AssetIter) fetchPage(ctx context.Context) error {
	a := it.album

	for {
		resp, err := a.library.service.post(ctx, "/records/query", a.listQuery(it.offset))
		if err != nil {
			it.retries++

			if it.onError == nil || it.retries > maxQueryRetries {
				return fmt.Errorf("photos: querying album %q: %w", a.name, err)
			}

			if handlerErr := it.onError(err, it.retries); handlerErr != nil {
				return handlerErr
			}

			continue
		}

		var result struct {
			Records []Record `json:"records"`
		}
		if err := resp.JSON(&result); err != nil {
			return err
		}

		assetByMaster := make(map[string]Record)
		var masters []Record

		for _, rec := range result.Records {
			switch rec.RecordType {
			case "CPLAsset":
				if masterID, ok := rec.ReferenceField("masterRef"); ok {
					assetByMaster[masterID] = rec
				}
			case "CPLMaster":
				masters = append(masters, rec)
			}
		}

		if len(masters) == 0 {
			it.done = true
			return nil
		}

		if a.direction == "DESCENDING" {
			it.offset -= len(masters)
		} else {
			it.offset += len(masters)
		}

		for _, master := range masters {
			it.buf = append(it.buf, newAsset(master, assetByMaster[master.RecordName]))
		}

		a.library.service.logger.Debug("fetched album page",
			slog.String("album", a.name),
			slog.Int("masters", len(masters)),
			slog.Int("next_offset", it.offset),
		)

		return nil
	}
}
