package fetch

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// DetectMimeType picks a MIME type: the server's Content-Type unless it is
// blank or text/plain, then the uri's extension, then content sniffing of
// head. It returns "" when nothing matches an image type.
func DetectMimeType(uri, contentType string, head []byte) string {
	if ct := mediaType(contentType); ct != "" && ct != "text/plain" {
		return ct
	}
	if t := mimeFromExtension(uri); t != "" {
		return t
	}
	if len(head) > 0 {
		if t := mediaType(http.DetectContentType(head)); strings.HasPrefix(t, "image/") {
			return t
		}
	}
	return ""
}

func mediaType(contentType string) string {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return ""
	}
	if t, _, err := mime.ParseMediaType(ct); err == nil {
		return t
	}
	return ""
}

var imageExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".svg":  "image/svg+xml",
}

func mimeFromExtension(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return ""
	}
	if t, ok := imageExt[ext]; ok {
		return t
	}
	return mediaType(mime.TypeByExtension(ext))
}
