package service

import (
	"path"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

const maxFilenameLength = 100

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename reduces an uploaded filename to a safe object key segment.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxFilenameLength {
		name = name[len(name)-maxFilenameLength:]
	}
	if name == "" {
		return "image"
	}
	return name
}

// newImageKey returns prefix + "<ULID>-<filename>". ULIDs sort by creation
// time and are unique per call, so concurrent uploads of equally named files
// never share a key.
func newImageKey(prefix, filename string) string {
	return prefix + ulid.Make().String() + "-" + sanitizeFilename(filename)
}
