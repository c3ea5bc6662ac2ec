// Package naming holds the pure filename and path policies: OS-reserved
// character cleaning, size and id disambiguation suffixes, live-photo movie
// names, date-based folder layout, and log-friendly path truncation.
package naming

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// reservedChars are rejected by at least one supported filesystem.
const reservedChars = "<>:\"/\\|?*\x00"

// CleanFilename replaces OS-reserved characters with underscores.
func CleanFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		if strings.ContainsRune(reservedChars, r) {
			b.WriteRune('_')
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// RemoveNonASCII drops every non-ASCII rune after NFC normalization. Used by
// the keep-unicode=false cleaner for filesystems with encoding trouble.
func RemoveNonASCII(name string) string {
	normalized := norm.NFC.String(name)

	var b strings.Builder
	b.Grow(len(normalized))

	for _, r := range normalized {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Cleaner transforms a server-provided filename into a locally safe one.
type Cleaner func(string) string

// NewCleaner builds the configured filename cleaner. With keepUnicode the
// reserved-character replacement still applies.
func NewCleaner(keepUnicode bool) Cleaner {
	if keepUnicode {
		return CleanFilename
	}

	return func(name string) string {
		return CleanFilename(RemoveNonASCII(name))
	}
}

// FileMatchPolicy decides how a local filename is disambiguated against
// other assets that share a server filename.
type FileMatchPolicy string

const (
	// PolicyNameSizeDedupWithSuffix keeps the plain name and falls back to
	// a byte-size suffix only when a mismatching file already exists.
	PolicyNameSizeDedupWithSuffix FileMatchPolicy = "name-size-dedup-with-suffix"

	// PolicyNameID7 always embeds a 7-character id fragment, making names
	// unique up front.
	PolicyNameID7 FileMatchPolicy = "name-id7"
)

// ParseFileMatchPolicy validates a policy name from configuration.
func ParseFileMatchPolicy(s string) (FileMatchPolicy, error) {
	switch FileMatchPolicy(s) {
	case PolicyNameSizeDedupWithSuffix, PolicyNameID7:
		return FileMatchPolicy(s), nil
	default:
		return "", fmt.Errorf("naming: unknown file match policy %q", s)
	}
}

// ApplyFileMatchPolicy applies the configured policy to a cleaned filename.
// assetID is the server record name of the asset.
func ApplyFileMatchPolicy(policy FileMatchPolicy, assetID, filename string) string {
	if policy != PolicyNameID7 {
		return filename
	}

	fragment := base64.URLEncoding.EncodeToString([]byte(assetID))
	if len(fragment) > 7 {
		fragment = fragment[:7]
	}

	return AddSuffix(filename, "_"+fragment)
}

// AddSuffix inserts a suffix between a filename's stem and extension.
func AddSuffix(filename, suffix string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + suffix + ext
}

// SizeSuffixed returns the local filename for a non-original size variant:
// IMG_1.JPG at medium becomes IMG_1-medium.JPG. Original keeps the plain
// name.
func SizeSuffixed(filename, size string) string {
	if size == "" || size == "original" {
		return filename
	}

	return AddSuffix(filename, "-"+size)
}

// DedupSuffixed returns the byte-size disambiguated form of a filename:
// IMG_1.JPG with 1234 bytes becomes IMG_1-1234.JPG.
func DedupSuffixed(filename string, size int64) string {
	return AddSuffix(filename, fmt.Sprintf("-%d", size))
}

// LegacyOriginalSuffixed returns the historical name carrying an explicit
// "-original" marker, still probed so old download trees are not re-fetched.
func LegacyOriginalSuffixed(filename string) string {
	return AddSuffix(filename, "-original")
}

// LivePhotoPolicy decides the name of a live photo's motion component.
type LivePhotoPolicy string

const (
	// LivePhotoSuffix renames IMG_1.HEIC's movie to IMG_1_HEVC.MOV.
	LivePhotoSuffix LivePhotoPolicy = "suffix"

	// LivePhotoOriginal names the movie IMG_1.MOV.
	LivePhotoOriginal LivePhotoPolicy = "original"
)

// ParseLivePhotoPolicy validates a policy name from configuration.
func ParseLivePhotoPolicy(s string) (LivePhotoPolicy, error) {
	switch LivePhotoPolicy(s) {
	case LivePhotoSuffix, LivePhotoOriginal:
		return LivePhotoPolicy(s), nil
	default:
		return "", fmt.Errorf("naming: unknown live photo policy %q", s)
	}
}

// LivePhotoMovieName converts a still filename into its paired movie
// filename. HEIC stills get the _HEVC marker under the suffix policy so the
// movie sorts next to its still without colliding with a real .MOV asset.
func LivePhotoMovieName(filename string, policy LivePhotoPolicy) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	if policy == LivePhotoSuffix && strings.EqualFold(ext, ".heic") {
		return stem + "_HEVC.MOV"
	}

	return stem + ".MOV"
}

// nonAlphanumeric matches everything a synthesized fallback name rejects.
var nonAlphanumeric = regexp.MustCompile(`[^0-9a-zA-Z]`)

// FallbackFilename synthesizes a filename for assets whose record carries
// no usable filenameEnc: the first 12 normalized characters of the asset id
// plus the extension implied by its item type.
func FallbackFilename(assetID, extension string) string {
	normalized := nonAlphanumeric.ReplaceAllString(assetID, "_")
	if len(normalized) > 12 {
		normalized = normalized[:12]
	}

	return normalized + "." + extension
}

// FolderLayout renders the date-based subdirectory for an asset. The layout
// uses Go reference-time syntax ("2006/01/02"); empty or "none" flattens
// everything into the target directory.
func FolderLayout(layout string, created time.Time) string {
	if layout == "" || layout == "none" {
		return ""
	}

	return created.Format(layout)
}

// TruncateMiddle shortens a string to at most length runes by replacing its
// middle with an ellipsis. Keeps log lines and progress bars readable for
// deep download paths.
func TruncateMiddle(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}

	if length <= 3 {
		return string([]rune("...")[:max(length, 0)])
	}

	endLen := length/2 - 2
	startLen := length - endLen - 4

	if endLen < 1 {
		endLen = 1
	}

	return string(runes[:startLen]) + "..." + string(runes[len(runes)-endLen:])
}
