// Package photos models the photo library web service: zone discovery,
// album enumeration (smart albums plus user folders), lazy paginated asset
// iteration, per-asset version resources, and remote deletion.
package photos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Sentinel errors for library-level failures.
var (
	// ErrNotIndexed means the server has not finished building the photo
	// index; querying before that returns incomplete results.
	ErrNotIndexed = errors.New("photos: library not finished indexing, try again in a few minutes")

	// ErrLibraryNotFound is returned for an unknown library name.
	ErrLibraryNotFound = errors.New("photos: no such library")

	// ErrAlbumNotFound is returned for an unknown album name.
	ErrAlbumNotFound = errors.New("photos: no such album")
)

// primaryZone is the zone holding the account's own library. Shared
// libraries appear as additional zones next to it.
const primaryZone = "PrimarySync"

// ZoneID identifies a record zone in query payloads.
type ZoneID struct {
	ZoneName        string `json:"zoneName"`
	OwnerRecordName string `json:"ownerRecordName,omitempty"`
	ZoneType        string `json:"zoneType,omitempty"`
}

// Service is the photo library client bound to the per-session ckdatabasews
// endpoint.
type Service struct {
	client   *icloud.Client
	endpoint string
	params   url.Values
	logger   *slog.Logger
}

// NewService builds a photo service from the webservice root discovered at
// login and the account's directory service id.
func NewService(client *icloud.Client, serviceRoot, dsid string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	params := url.Values{
		"remapEnums":          {"true"},
		"getCurrentSyncToken": {"true"},
		"clientId":            {client.ClientID()},
	}

	if dsid != "" {
		params.Set("dsid", dsid)
	}

	return &Service{
		client:   client,
		endpoint: serviceRoot + "/database/1/com.apple.photos.cloud/production/private",
		params:   params,
		logger:   logger,
	}
}

// post sends one database query and returns the normalized response.
func (s *Service) post(ctx context.Context, path string, payload any) (*icloud.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("photos: encoding query: %w", err)
	}

	return s.client.PostText(ctx, s.endpoint+path, s.params, data)
}

// Libraries discovers the available record zones: the primary library plus
// any shared libraries, keyed by zone name.
func (s *Service) Libraries(ctx context.Context) (map[string]*Library, error) {
	resp, err := s.post(ctx, "/zones/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("photos: listing zones: %w", err)
	}

	var listing struct {
		Zones []struct {
			ZoneID ZoneID `json:"zoneID"`
		} `json:"zones"`
	}
	if err := resp.JSON(&listing); err != nil {
		return nil, err
	}

	libraries := make(map[string]*Library, len(listing.Zones))
	for _, z := range listing.Zones {
		libraries[z.ZoneID.ZoneName] = &Library{service: s, zone: z.ZoneID}
	}

	s.logger.Debug("discovered photo libraries", slog.Int("count", len(libraries)))

	return libraries, nil
}

// Library resolves one library by name; "PrimarySync" is the account's own.
func (s *Service) Library(ctx context.Context, name string) (*Library, error) {
	libraries, err := s.Libraries(ctx)
	if err != nil {
		return nil, err
	}

	lib, ok := libraries[name]
	if !ok {
		return nil, fmt.Errorf("photos: library %q: %w", name, ErrLibraryNotFound)
	}

	return lib, nil
}

// Download opens a streaming response for a version resource, resuming from
// the given byte offset when positive.
func (s *Service) Download(ctx context.Context, version Version, from int64) (*http.Response, error) {
	if version.URL == "" {
		return nil, errors.New("photos: version has no download URL")
	}

	return s.client.Stream(ctx, version.URL, from)
}

// Library is one record zone of the photo service.
type Library struct {
	service *Service
	zone    ZoneID
}

// Name returns the zone name of the library.
func (l *Library) Name() string {
	return l.zone.ZoneName
}

// IndexReady verifies that server-side indexing has finished. Querying an
// unindexed library silently misses assets, so every sync starts here.
func (l *Library) IndexReady(ctx context.Context) error {
	resp, err := l.service.post(ctx, "/records/query", map[string]any{
		"query":  map[string]any{"recordType": "CheckIndexingState"},
		"zoneID": l.zone,
	})
	if err != nil {
		return fmt.Errorf("photos: checking indexing state: %w", err)
	}

	var result struct {
		Records []Record `json:"records"`
	}
	if err := resp.JSON(&result); err != nil {
		return err
	}

	if len(result.Records) == 0 {
		return ErrNotIndexed
	}

	state, _ := result.Records[0].StringField("state")
	if state != "FINISHED" {
		l.service.logger.Warn("library index not ready",
			slog.String("library", l.zone.ZoneName),
			slog.String("state", state),
		)

		return ErrNotIndexed
	}

	return nil
}

// Delete flags an asset as deleted server side, moving it to Recently
// Deleted. The change tag must be the one the asset was fetched with.
func (l *Library) Delete(ctx context.Context, asset *Asset) error {
	payload := map[string]any{
		"operations": []map[string]any{{
			"operationType": "update",
			"record": map[string]any{
				"recordName":      asset.assetRecord.RecordName,
				"recordType":      asset.assetRecord.RecordType,
				"recordChangeTag": asset.masterRecord.RecordChangeTag,
				"fields":          map[string]any{"isDeleted": map[string]any{"value": 1}},
			},
		}},
		"zoneID": l.zone,
		"atomic": true,
	}

	if _, err := l.service.post(ctx, "/records/modify", payload); err != nil {
		return fmt.Errorf("photos: deleting asset %s: %w", asset.ID(), err)
	}

	l.service.logger.Debug("asset flagged deleted", slog.String("id", asset.ID()))

	return nil
}
