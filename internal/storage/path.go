package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// FileObjectKey builds the canonical object key for an uploaded
// spreadsheet: sheets/<owner>/<file>/<name>. Owner and file IDs are
// minted server side and validated strictly; the name comes from user
// input and is sanitized instead.
func FileObjectKey(ownerID, fileID, name string) (string, error) {
	if err := validatePathComponent(ownerID, "owner id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(fileID, "file id"); err != nil {
		return "", err
	}
	return path.Join("sheets", ownerID, fileID, SanitizeObjectName(name)), nil
}

// SanitizeObjectName reduces an arbitrary upload name to a single safe
// path segment. Directory parts and traversal sequences are stripped,
// overly long names keep their tail so the extension survives.
func SanitizeObjectName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return name
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
