package qsync

import (
	"mime"
	"path"
	"strings"
	"time"
	"unicode"
)

// Object key layout. Keys always use forward slashes regardless of backend.
const (
	CustomersPrefix = "customers/"
	QuotesPrefix    = "quotes/"

	DefaultCustomer  = "unknown"
	DefaultSubfolder = "files"
	DefaultFilename  = "file"

	originalDir  = "original"
	previewsDir  = "previews"
	quoteFormDir = "00-Quote-Form"

	ManifestName = "manifest.json"
)

var hostileChars = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "", "<", "", ">", "", "|", "",
)

// Sanitize strips path-hostile characters and surrounding whitespace from one
// key segment. Case is preserved. "." and ".." collapse to the empty string.
func Sanitize(s string) string {
	s = strings.TrimSpace(hostileChars.Replace(s))
	if s == "." || s == ".." {
		return ""
	}
	return s
}

func sanitizeOr(s, fallback string) string {
	if v := Sanitize(s); v != "" {
		return v
	}
	return fallback
}

// ObjectKey builds the canonical key for an original upload:
//
//	customers/<customer>/quotes/<quote>/<subfolder>/<id>/original/<filename>
func ObjectKey(customer, quoteID, subfolder, id, filename string) string {
	return strings.Join([]string{
		"customers",
		sanitizeOr(customer, DefaultCustomer),
		"quotes",
		Sanitize(quoteID),
		sanitizeOr(subfolder, DefaultSubfolder),
		id,
		originalDir,
		sanitizeOr(filename, DefaultFilename),
	}, "/")
}

// KeyParts are the segments of a canonical original key.
type KeyParts struct {
	Customer  string
	QuoteID   string
	Subfolder string
	ID        string
	Filename  string
}

// ParseObjectKey splits a canonical original key into its segments.
// ok is false for keys that do not follow the convention.
func ParseObjectKey(key string) (KeyParts, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 8 || parts[0] != "customers" || parts[2] != "quotes" || parts[6] != originalDir {
		return KeyParts{}, false
	}
	for _, p := range parts {
		if p == "" {
			return KeyParts{}, false
		}
	}
	return KeyParts{
		Customer:  parts[1],
		QuoteID:   parts[3],
		Subfolder: parts[4],
		ID:        parts[5],
		Filename:  parts[7],
	}, true
}

// QuotePrefix is the key prefix holding every original for one quote.
// An empty customer yields the prefix for the customers/ root.
func QuotePrefix(customer, quoteID, subfolder string) string {
	if Sanitize(customer) == "" {
		return CustomersPrefix
	}
	p := CustomersPrefix + Sanitize(customer) + "/quotes/" + Sanitize(quoteID) + "/"
	if s := Sanitize(subfolder); s != "" {
		p += s + "/"
	}
	return p
}

// PreviewKey derives the key of a preview rendition from its source key:
// the source key's directory plus previews/<sizeClass>.<ext>.
func PreviewKey(sourceKey, sizeClass, ext string) string {
	return path.Join(path.Dir(sourceKey), previewsDir, sizeClass+"."+ext)
}

// CustomerSlug lowercases a customer label and collapses every run of
// non-alphanumeric characters into a single dash.
func CustomerSlug(customer string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(customer)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return DefaultCustomer
	}
	return slug
}

// SnapshotDir is quotes/<customer-slug>/<quote-id>/00-Quote-Form.
func SnapshotDir(customer, quoteID string) string {
	return QuotesPrefix + CustomerSlug(customer) + "/" + Sanitize(quoteID) + "/" + quoteFormDir
}

// SnapshotKey is the versioned key of one quote snapshot upload.
// ext is appended to ".json" (for example ".age" for encrypted payloads).
func SnapshotKey(customer, quoteID string, at time.Time, ext string) string {
	return SnapshotDir(customer, quoteID) + "/quote.v" + SnapshotTimestamp(at) + ".json" + ext
}

// ManifestKey is the per-quote manifest sibling of the snapshot objects.
func ManifestKey(customer, quoteID string) string {
	return SnapshotDir(customer, quoteID) + "/" + ManifestName
}

var timestampDashes = strings.NewReplacer(":", "-", ".", "-")

// SnapshotTimestamp renders t as ISO 8601 in UTC with ':' and '.' replaced by
// dashes, for example 2024-01-15T10-30-00-000Z.
func SnapshotTimestamp(t time.Time) string {
	return timestampDashes.Replace(t.UTC().Format("2006-01-02T15:04:05.000")) + "Z"
}

// DefaultContentType is used when nothing better is known.
const DefaultContentType = "application/octet-stream"

// knownTypes pins the types the preview worker cares about so detection does
// not depend on the host's mime.types.
var knownTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".json": "application/json",
}

// DetectContentType guesses a MIME type from the extension of name.
func DetectContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return DefaultContentType
	}
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return DefaultContentType
}

// ValidateKey rejects keys that could escape a backend root: empty keys,
// absolute paths, backslashes and "." or ".." segments.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return InvalidArgument("object key required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return InvalidArgument("object key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return InvalidArgument("object key %q has an empty or dot segment", key)
		}
	}
	return nil
}
