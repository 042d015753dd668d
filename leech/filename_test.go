package leech_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iamrita-ai/Terabox-Drive/leech"
)

func TestExt(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"movie.MKV":       ".mkv",
		"song.mp3":        ".mp3",
		"archive.tar.gz":  ".gz",
		"no_extension":    "",
		"weird.part00001": "",
		"":                "",
	}
	for name, want := range tests {
		assert.Equal(t, want, leech.Ext(name), name)
	}
}

func TestKindOfFile(t *testing.T) {
	t.Parallel()

	tests := map[string]leech.FileKind{
		"movie.mkv":     leech.FileVideo,
		"clip.MP4":      leech.FileVideo,
		"song.flac":     leech.FileAudio,
		"photo.jpeg":    leech.FileImage,
		"book.pdf":      leech.FilePDF,
		"app.apk":       leech.FileAPK,
		"backup.tar":    leech.FileArchive,
		"report.docx":   leech.FileDocument,
		"no_extension":  leech.FileDocument,
		"trailing.dot.": leech.FileDocument,
	}
	for name, want := range tests {
		assert.Equal(t, want, leech.KindOfFile(name), name)
	}
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	t.Run("InvalidCharacters", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "a_b_c_d_e_f_g_h_i_j.bin", leech.SanitizeFileName(`a<b>c:d"e/f\g|h?i*j.bin`))
	})

	t.Run("URLEncoded", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "my movie.mkv", leech.SanitizeFileName("my%20movie.mkv"))
	})

	t.Run("TrimsDotsAndSpaces", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "name", leech.SanitizeFileName("  .name.. \t"))
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "downloaded_file", leech.SanitizeFileName(""))
		assert.Equal(t, "downloaded_file", leech.SanitizeFileName(" ... "))
	})

	t.Run("LongNameKeepsExtension", func(t *testing.T) {
		t.Parallel()
		got := leech.SanitizeFileName(strings.Repeat("a", 300) + ".mkv")
		assert.Len(t, got, 200)
		assert.True(t, strings.HasSuffix(got, ".mkv"))
	})
}

func TestReadableSize(t *testing.T) {
	t.Parallel()

	tests := map[int64]string{
		0:               "0 B",
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1 << 20:     "5.00 MB",
		1536 * 1 << 20:  "1.50 GB",
		3 * 1 << 30:     "3.00 GB",
		1<<20 + 1<<19:   "1.50 MB",
		(1 << 10) - 1:   "1023 B",
		150*1<<20 + 100: "150.00 MB",
	}
	for n, want := range tests {
		assert.Equal(t, want, leech.ReadableSize(n), n)
	}
}
