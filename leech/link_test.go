package leech_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iamrita-ai/Terabox-Drive/leech"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	t.Run("MixedText", func(t *testing.T) {
		t.Parallel()
		text := "grab these:\nhttps://drive.google.com/file/d/abc123/view\nand http://files.example.com/movie.mkv please"
		assert.Equal(
			t,
			[]string{"https://drive.google.com/file/d/abc123/view", "http://files.example.com/movie.mkv"},
			leech.ExtractLinks(text),
		)
	})

	t.Run("NoLinks", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, leech.ExtractLinks("no links in here, just words"))
	})

	t.Run("AngleBracketsEndLink", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"https://example.com/a"}, leech.ExtractLinks("<https://example.com/a>"))
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("GDrive", func(t *testing.T) {
		t.Parallel()
		tests := []string{
			"https://drive.google.com/file/d/1aBcD_eF-123/view?usp=sharing",
			"https://drive.google.com/open?id=1aBcD_eF-123",
			"https://docs.google.com/uc?id=1aBcD_eF-123&export=download",
		}
		for _, test := range tests {
			kind, ok := leech.Classify(test)
			assert.True(t, ok, test)
			assert.Equal(t, leech.KindGDrive, kind, test)
		}
	})

	t.Run("Terabox", func(t *testing.T) {
		t.Parallel()
		tests := []string{
			"https://terabox.com/s/1uNVuNPbMyO1X3t0aBcDeF",
			"https://www.teraboxapp.com/s/1uNVuNPbMyO1X3t0aBcDeF",
			"https://dm.nephobox.com/s/1uNVuNPbMyO1X3t0aBcDeF",
			"https://1024tera.com/sharing/link?surl=uNVuNPbMyO1X3t0aBcDeF",
			"https://tbx.to/s/1uNVuNPbMyO1X3t0aBcDeF",
		}
		for _, test := range tests {
			kind, ok := leech.Classify(test)
			assert.True(t, ok, test)
			assert.Equal(t, leech.KindTerabox, kind, test)
		}
	})

	t.Run("Direct", func(t *testing.T) {
		t.Parallel()
		tests := []string{
			"https://files.example.com/releases/app-v1.2.3.apk",
			"http://mirror.example.org/iso/disk.iso",
			"https://storage.googleapis.com/bucket/object.mp4",
			"https://drive.usercontent.google.com/download?id=abc&export=download",
		}
		for _, test := range tests {
			kind, ok := leech.Classify(test)
			assert.True(t, ok, test)
			assert.Equal(t, leech.KindDirect, kind, test)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		t.Parallel()
		tests := []string{
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			"https://youtu.be/dQw4w9WgXcQ",
			"https://x.com/someone/status/123",
			"https://www.instagram.com/reel/abc/",
			"ftp://files.example.com/movie.mkv",
			"not a link at all",
			"https://",
		}
		for _, test := range tests {
			_, ok := leech.Classify(test)
			assert.False(t, ok, test)
		}
	})

	t.Run("LookalikeHostsAreNotTerabox", func(t *testing.T) {
		t.Parallel()
		kind, ok := leech.Classify("https://notterabox.com.example.net/s/1abc")
		assert.True(t, ok)
		assert.Equal(t, leech.KindDirect, kind)
	})
}

func TestGDriveFileID(t *testing.T) {
	t.Parallel()

	t.Run("KnownForms", func(t *testing.T) {
		t.Parallel()
		tests := map[string]string{
			"https://drive.google.com/file/d/1aBcD_eF-123/view?usp=sharing": "1aBcD_eF-123",
			"https://drive.google.com/open?id=1aBcD_eF-123":                 "1aBcD_eF-123",
			"https://drive.google.com/uc?export=download&id=1aBcD_eF-123":   "1aBcD_eF-123",
			"https://drive.google.com/drive/folders/1aBcD_eF-123":           "1aBcD_eF-123",
		}
		for link, want := range tests {
			got, err := leech.GDriveFileID(link)
			assert.NoError(t, err, link)
			assert.Equal(t, want, got, link)
		}
	})

	t.Run("NoID", func(t *testing.T) {
		t.Parallel()
		_, err := leech.GDriveFileID("https://drive.google.com/drive/my-drive")
		invalidErr := new(leech.InvalidLinkError)
		assert.ErrorAs(t, err, &invalidErr)
	})
}
