// Package cloudstore performs bucketed blob I/O using brokered credentials
// and applies the standardized object key layout.
package cloudstore

import (
	"strings"
	"time"
)

// pluralize appends "s" unless the word already ends in one. Resource types
// and file categories arrive in singular form but the layout uses plural
// path segments; double-adding must not happen when callers pre-pluralize.
func pluralize(word string) string {
	if strings.HasSuffix(word, "s") {
		return word
	}
	return word + "s"
}

// safeOwner neutralizes path separators in the owner segment.
func safeOwner(owner string) string {
	owner = strings.ReplaceAll(owner, "/", "_")
	return strings.ReplaceAll(owner, "\\", "_")
}

// normalizeExt guarantees a leading dot on a non-empty extension.
func normalizeExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// ObjectKey synthesizes the standardized storage key:
// <resource_type>s/<owner>/<file_category>s/<hash><ext>
func ObjectKey(resourceType, owner, fileCategory, fileHash, ext string) string {
	return strings.Join([]string{
		pluralize(resourceType),
		safeOwner(owner),
		pluralize(fileCategory),
		fileHash + normalizeExt(ext),
	}, "/")
}

// ObjectKeyWithDate inserts a YYYY-MM-DD segment before the filename.
func ObjectKeyWithDate(resourceType, owner, fileCategory, fileHash, ext string, date time.Time) string {
	return strings.Join([]string{
		pluralize(resourceType),
		safeOwner(owner),
		pluralize(fileCategory),
		date.Format("2006-01-02"),
		fileHash + normalizeExt(ext),
	}, "/")
}
