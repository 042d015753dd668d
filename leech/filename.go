package leech

import (
	"fmt"
	"net/url"
	"strings"
)

type FileKind string

const (
	FileVideo    FileKind = "video"
	FileAudio    FileKind = "audio"
	FileImage    FileKind = "image"
	FilePDF      FileKind = "pdf"
	FileAPK      FileKind = "apk"
	FileArchive  FileKind = "archive"
	FileDocument FileKind = "document"
)

func (k FileKind) String() string {
	return string(k)
}

// Ext returns the lowercased extension of the file name, dot included.
// Overlong tails are not extensions, "archive.part001" has none.
func Ext(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return ""
	}
	ext := strings.ToLower(name[idx:])
	if len(ext) > 6 {
		return ""
	}
	return ext
}

var fileKinds = map[string]FileKind{
	".mp4":  FileVideo,
	".mkv":  FileVideo,
	".avi":  FileVideo,
	".mov":  FileVideo,
	".wmv":  FileVideo,
	".flv":  FileVideo,
	".webm": FileVideo,
	".m4v":  FileVideo,
	".3gp":  FileVideo,
	".mpeg": FileVideo,
	".mpg":  FileVideo,
	".ts":   FileVideo,
	".mp3":  FileAudio,
	".wav":  FileAudio,
	".flac": FileAudio,
	".aac":  FileAudio,
	".ogg":  FileAudio,
	".wma":  FileAudio,
	".m4a":  FileAudio,
	".opus": FileAudio,
	".amr":  FileAudio,
	".jpg":  FileImage,
	".jpeg": FileImage,
	".png":  FileImage,
	".gif":  FileImage,
	".bmp":  FileImage,
	".webp": FileImage,
	".tiff": FileImage,
	".ico":  FileImage,
	".pdf":  FilePDF,
	".apk":  FileAPK,
	".zip":  FileArchive,
	".rar":  FileArchive,
	".7z":   FileArchive,
	".tar":  FileArchive,
	".gz":   FileArchive,
}

func KindOfFile(name string) FileKind {
	if kind, ok := fileKinds[Ext(name)]; ok {
		return kind
	}
	return FileDocument
}

const fallbackFileName = "downloaded_file"

// SanitizeFileName turns an arbitrary, possibly URL-encoded name into one
// that is safe to create on disk and to show in captions.
func SanitizeFileName(name string) string {
	if unescaped, err := url.PathUnescape(name); nil == err {
		name = unescaped
	}

	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*', '\x00', '\n', '\r', '\t':
			return '_'
		default:
			return r
		}
	}, name)
	name = strings.Trim(name, ". \t\n\r")

	const maxLen = 200
	if len(name) > maxLen {
		var ext string
		if idx := strings.LastIndexByte(name, '.'); idx >= 0 && len(name)-idx <= 6 {
			ext = name[idx:]
		}
		name = name[:maxLen-len(ext)] + ext
	}

	if name == "" {
		return fallbackFileName
	}
	return name
}

func ReadableSize(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	}
}
