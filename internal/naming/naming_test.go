package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"IMG_1234.JPG", "IMG_1234.JPG"},
		{`a<b>c:d"e/f\g|h?i*j.png`, "a_b_c_d_e_f_g_h_i_j.png"},
		{"nul\x00byte.mov", "nul_byte.mov"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanFilename(tt.in))
	}
}

func TestRemoveNonASCII(t *testing.T) {
	assert.Equal(t, "IMG_1234.JPG", RemoveNonASCII("IMG_1234.JPG"))
	assert.Equal(t, "photo-.jpg", RemoveNonASCII("photo-日本語.jpg"))
}

func TestNewCleaner(t *testing.T) {
	keep := NewCleaner(true)
	assert.Equal(t, "日本語_.jpg", keep(`日本語?.jpg`))

	strip := NewCleaner(false)
	assert.Equal(t, "_.jpg", strip(`日本語?.jpg`))
}

func TestApplyFileMatchPolicy(t *testing.T) {
	plain := ApplyFileMatchPolicy(PolicyNameSizeDedupWithSuffix, "AB+CD", "IMG_1.JPG")
	assert.Equal(t, "IMG_1.JPG", plain)

	suffixed := ApplyFileMatchPolicy(PolicyNameID7, "AB+CD", "IMG_1.JPG")
	assert.NotEqual(t, "IMG_1.JPG", suffixed)
	assert.Contains(t, suffixed, "IMG_1_")
	assert.Contains(t, suffixed, ".JPG")

	// Same asset id always yields the same name.
	again := ApplyFileMatchPolicy(PolicyNameID7, "AB+CD", "IMG_1.JPG")
	assert.Equal(t, suffixed, again)
}

func TestParseFileMatchPolicy(t *testing.T) {
	p, err := ParseFileMatchPolicy("name-id7")
	require.NoError(t, err)
	assert.Equal(t, PolicyNameID7, p)

	_, err = ParseFileMatchPolicy("bogus")
	assert.Error(t, err)
}

func TestSizeSuffixed(t *testing.T) {
	assert.Equal(t, "IMG_1.JPG", SizeSuffixed("IMG_1.JPG", "original"))
	assert.Equal(t, "IMG_1-medium.JPG", SizeSuffixed("IMG_1.JPG", "medium"))
	assert.Equal(t, "IMG_1-thumb.JPG", SizeSuffixed("IMG_1.JPG", "thumb"))
}

func TestDedupSuffixed(t *testing.T) {
	assert.Equal(t, "IMG_1-1234.JPG", DedupSuffixed("IMG_1.JPG", 1234))
	assert.Equal(t, "noext-99", DedupSuffixed("noext", 99))
}

func TestLegacyOriginalSuffixed(t *testing.T) {
	assert.Equal(t, "IMG_1-original.JPG", LegacyOriginalSuffixed("IMG_1.JPG"))
}

func TestLivePhotoMovieName(t *testing.T) {
	assert.Equal(t, "IMG_1_HEVC.MOV", LivePhotoMovieName("IMG_1.HEIC", LivePhotoSuffix))
	assert.Equal(t, "IMG_1.MOV", LivePhotoMovieName("IMG_1.HEIC", LivePhotoOriginal))
	assert.Equal(t, "IMG_1.MOV", LivePhotoMovieName("IMG_1.JPG", LivePhotoSuffix))
}

func TestFallbackFilename(t *testing.T) {
	assert.Equal(t, "AZ0xqSp1xgM_.JPG", FallbackFilename("AZ0xqSp1xgM/PcHkQrQ==", "JPG"))
	assert.Equal(t, "abc.MOV", FallbackFilename("abc", "MOV"))
}

func TestFolderLayout(t *testing.T) {
	created := time.Date(2024, 7, 19, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024/07/19", FolderLayout("2006/01/02", created))
	assert.Equal(t, "2024-07", FolderLayout("2006-01", created))
	assert.Equal(t, "", FolderLayout("none", created))
	assert.Equal(t, "", FolderLayout("", created))
}

func TestTruncateMiddle(t *testing.T) {
	assert.Equal(t, "short", TruncateMiddle("short", 10))
	assert.Equal(t, "abc...xyz", TruncateMiddle("abcdefghijklmnopqrstuvwxyz", 10))
	assert.Equal(t, "...", TruncateMiddle("abcdefgh", 3))
	assert.Len(t, TruncateMiddle("abcdefghijklmnopqrstuvwxyz", 9), 8)
}
