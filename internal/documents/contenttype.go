package documents

import (
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"tariffsync/internal/podio"
)

const OctetStream = "application/octet-stream"

var extTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
}

func clean(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// generic types say nothing about the content and never win over a guess
func generic(ct string) bool {
	return ct == "" || ct == OctetStream || ct == "binary/octet-stream" || ct == "application/download"
}

// GuessByExtension maps a filename to a content type, or "".
func GuessByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct, ok := extTypes[ext]; ok {
		return ct
	}
	return clean(mime.TypeByExtension(ext))
}

// ResolveContentType picks, in order: the declared type, the download
// response type, a guess from the filename, then application/octet-stream.
func ResolveContentType(declared, response, name string) string {
	for _, ct := range []string{clean(declared), clean(response), GuessByExtension(name)} {
		if !generic(ct) {
			return ct
		}
	}
	return OctetStream
}

func IsImage(ct string) bool { return strings.HasPrefix(ct, "image/") }

func IsPDF(ct string) bool { return ct == "application/pdf" }

// ImagesFirst returns files with image-typed entries ahead of the rest,
// keeping relative order inside each group.
func ImagesFirst(files []podio.File) []podio.File {
	out := make([]podio.File, len(files))
	copy(out, files)
	rank := func(f podio.File) int {
		if IsImage(clean(f.Mimetype)) {
			return 0
		}
		return 1
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
