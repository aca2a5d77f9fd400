package objectstore

import (
	"fmt"
	"net/url"
	"strings"
)

// CleanPath normalises a folder or object path: surrounding slashes are
// stripped, backslashes and ".." segments are rejected.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: contains backslash", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: contains ..", ErrInvalidPath)
		}
	}
	return strings.Trim(p, "/"), nil
}

// FolderMarker is the key prefix (and zero-byte marker object) of a folder.
func FolderMarker(p string) string {
	if p == "" {
		return ""
	}
	return p + "/"
}

// baseName returns the last path segment of an object key.
func baseName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func parentOf(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i]
	}
	return ""
}

// escapeKey percent-encodes each segment of an object key, keeping "/".
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// PublicURL builds the browser-facing URL of an object.
func PublicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + escapeKey(strings.TrimLeft(key, "/"))
}

// ParsePublicURL splits http://host/<bucket>/<key> into bucket and key.
func ParsePublicURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: url must look like http://<host>/<bucket>/<key>", ErrInvalidPath)
	}
	return parts[0], strings.Join(parts[1:], "/"), nil
}

// Ext returns the lower-cased extension of a key without the dot.
func Ext(key string) string {
	name := baseName(strings.SplitN(key, "?", 2)[0])
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
