package photos

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/icloud-go/internal/naming"
)

// ItemType classifies an asset as a still image or a movie.
type ItemType string

const (
	ItemImage   ItemType = "image"
	ItemMovie   ItemType = "movie"
	ItemUnknown ItemType = "unknown"
)

// itemTypes maps the server's uniform type identifiers.
var itemTypes = map[string]ItemType{
	"public.heic":               ItemImage,
	"public.jpeg":               ItemImage,
	"public.png":                ItemImage,
	"com.apple.quicktime-movie": ItemMovie,
}

// itemTypeExtensions supplies the extension for synthesized filenames.
var itemTypeExtensions = map[string]string{
	"public.heic":               "HEIC",
	"public.jpeg":               "JPG",
	"public.png":                "PNG",
	"com.apple.quicktime-movie": "MOV",
}

// VersionSize names a still-asset size variant.
type VersionSize string

const (
	SizeOriginal    VersionSize = "original"
	SizeAlternative VersionSize = "alternative"
	SizeAdjusted    VersionSize = "adjusted"
	SizeMedium      VersionSize = "medium"
	SizeThumb       VersionSize = "thumb"
)

// ParseVersionSize validates a size name from configuration.
func ParseVersionSize(s string) (VersionSize, error) {
	switch VersionSize(s) {
	case SizeOriginal, SizeAlternative, SizeAdjusted, SizeMedium, SizeThumb:
		return VersionSize(s), nil
	default:
		return "", fmt.Errorf("photos: unknown size %q", s)
	}
}

// LivePhotoSize names a live photo movie variant.
type LivePhotoSize string

const (
	LiveOriginal LivePhotoSize = "original"
	LiveMedium   LivePhotoSize = "medium"
	LiveThumb    LivePhotoSize = "thumb"
)

// ParseLivePhotoSize validates a live photo size name from configuration.
func ParseLivePhotoSize(s string) (LivePhotoSize, error) {
	switch LivePhotoSize(s) {
	case LiveOriginal, LiveMedium, LiveThumb:
		return LivePhotoSize(s), nil
	default:
		return "", fmt.Errorf("photos: unknown live photo size %q", s)
	}
}

// photoVersionLookup maps still sizes to their resource prefixes.
var photoVersionLookup = map[VersionSize]string{
	SizeOriginal:    "resOriginal",
	SizeAlternative: "resOriginalAlt",
	SizeAdjusted:    "resJPEGFull",
	SizeMedium:      "resJPEGMed",
	SizeThumb:       "resJPEGThumb",
}

// videoVersionLookup maps movie sizes to their resource prefixes.
var videoVersionLookup = map[VersionSize]string{
	SizeOriginal: "resOriginal",
	SizeMedium:   "resVidMed",
	SizeThumb:    "resVidSmall",
}

// livePhotoVersionLookup maps live photo movie sizes to their prefixes.
var livePhotoVersionLookup = map[LivePhotoSize]string{
	LiveOriginal: "resOriginalVidCompl",
	LiveMedium:   "resVidMed",
	LiveThumb:    "resVidSmall",
}

// RawPolicy decides which slot holds the raw file when an asset carries
// both a raw and a processed original.
type RawPolicy string

const (
	RawAsIs          RawPolicy = "as-is"
	RawAsOriginal    RawPolicy = "as-original"
	RawAsAlternative RawPolicy = "as-alternative"
)

// ParseRawPolicy validates a policy name from configuration.
func ParseRawPolicy(s string) (RawPolicy, error) {
	switch RawPolicy(s) {
	case RawAsIs, RawAsOriginal, RawAsAlternative:
		return RawPolicy(s), nil
	default:
		return "", fmt.Errorf("photos: unknown raw policy %q", s)
	}
}

// Version is one downloadable resource of an asset.
type Version struct {
	URL  string
	Size int64
	Type string
}

// Asset is one photo or video, assembled from its master and asset records.
type Asset struct {
	masterRecord Record
	assetRecord  Record
}

func newAsset(master, asset Record) *Asset {
	return &Asset{masterRecord: master, assetRecord: asset}
}

// ID returns the master record name, the stable asset identifier.
func (a *Asset) ID() string {
	return a.masterRecord.RecordName
}

// RecordChangeTag returns the tag required for mutations.
func (a *Asset) RecordChangeTag() string {
	return a.masterRecord.RecordChangeTag
}

// Filename returns the decoded server filename, or a synthesized one when
// the record carries none.
func (a *Asset) Filename() string {
	if name, ok := a.masterRecord.EncodedTextField("filenameEnc"); ok && name != "" {
		return name
	}

	return naming.FallbackFilename(a.ID(), a.extension())
}

// extension picks the fallback extension from the item type, defaulting by
// asset class.
func (a *Asset) extension() string {
	if raw, ok := a.masterRecord.StringField("itemType"); ok {
		if ext, found := itemTypeExtensions[raw]; found {
			return ext
		}
	}

	if a.ItemType() == ItemMovie {
		return "MOV"
	}

	return "JPG"
}

// ItemType classifies the asset, falling back to the filename extension for
// unknown type identifiers.
func (a *Asset) ItemType() ItemType {
	raw, ok := a.masterRecord.StringField("itemType")
	if !ok {
		return ItemUnknown
	}

	if t, found := itemTypes[raw]; found {
		return t
	}

	name, hasName := a.masterRecord.EncodedTextField("filenameEnc")
	if !hasName {
		return ItemMovie
	}

	lower := strings.ToLower(name)
	for _, ext := range []string{".heic", ".png", ".jpg", ".jpeg"} {
		if strings.HasSuffix(lower, ext) {
			return ItemImage
		}
	}

	return ItemMovie
}

// CreatedAt returns the asset capture date; records without one fall back
// to the epoch so date filters behave deterministically.
func (a *Asset) CreatedAt() time.Time {
	if ms, ok := a.assetRecord.Int64Field("assetDate"); ok {
		return time.UnixMilli(ms).UTC()
	}

	return time.Unix(0, 0).UTC()
}

// AddedAt returns the date the asset entered the library.
func (a *Asset) AddedAt() time.Time {
	if ms, ok := a.assetRecord.Int64Field("addedDate"); ok {
		return time.UnixMilli(ms).UTC()
	}

	return time.Unix(0, 0).UTC()
}

// IsFavorite reports the favorite flag on the asset record.
func (a *Asset) IsFavorite() bool {
	fav, _ := a.assetRecord.BoolField("isFavorite")
	return fav
}

// OriginalSize returns the byte size of the original resource.
func (a *Asset) OriginalSize() int64 {
	res, _ := a.masterRecord.ResourceField("resOriginalRes")
	return res.Size
}

// version reads one resource slot off the master record.
func (a *Asset) version(prefix string) (Version, bool) {
	res, ok := a.masterRecord.ResourceField(prefix + "Res")
	if !ok {
		return Version{}, false
	}

	fileType, _ := a.masterRecord.StringField(prefix + "FileType")

	return Version{URL: res.DownloadURL, Size: res.Size, Type: fileType}, true
}

// Versions returns the asset's downloadable size variants with the raw
// alignment policy applied.
func (a *Asset) Versions(policy RawPolicy) map[VersionSize]Version {
	lookup := photoVersionLookup
	if a.ItemType() == ItemMovie {
		lookup = videoVersionLookup
	}

	versions := make(map[VersionSize]Version, len(lookup))
	for size, prefix := range lookup {
		if v, ok := a.version(prefix); ok {
			versions[size] = v
		}
	}

	applyRawPolicy(versions, policy)

	return versions
}

// isRawFileType detects camera raw type identifiers.
func isRawFileType(t string) bool {
	return strings.Contains(strings.ToLower(t), "raw")
}

// applyRawPolicy swaps the original and alternative slots so the raw file
// lands where the configuration expects it.
func applyRawPolicy(versions map[VersionSize]Version, policy RawPolicy) {
	original, hasOriginal := versions[SizeOriginal]
	alternative, hasAlternative := versions[SizeAlternative]

	if !hasOriginal || !hasAlternative {
		return
	}

	swap := false

	switch policy {
	case RawAsOriginal:
		swap = isRawFileType(alternative.Type)
	case RawAsAlternative:
		swap = isRawFileType(original.Type)
	case RawAsIs:
	}

	if swap {
		versions[SizeOriginal], versions[SizeAlternative] = alternative, original
	}
}

// RecordsJSON serializes the raw master and asset records. Used to dump an
// undecodable pair for offline inspection before skipping the asset.
func (a *Asset) RecordsJSON() ([]byte, error) {
	data, err := json.MarshalIndent(map[string]Record{
		"master": a.masterRecord,
		"asset":  a.assetRecord,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("photos: encoding records for %s: %w", a.ID(), err)
	}

	return data, nil
}

// HasLivePhoto reports whether a still asset carries a motion component.
func (a *Asset) HasLivePhoto() bool {
	if a.ItemType() != ItemImage {
		return false
	}

	_, ok := a.masterRecord.ResourceField("resOriginalVidComplRes")

	return ok
}

// LivePhotoVersion returns the movie component at the requested size.
func (a *Asset) LivePhotoVersion(size LivePhotoSize) (Version, bool) {
	if !a.HasLivePhoto() {
		return Version{}, false
	}

	return a.version(livePhotoVersionLookup[size])
}
