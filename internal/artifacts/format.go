package artifacts

import (
	"path"
	"strings"
)

// Format identifies one recognized output format produced by the conversion
// worker. Tags are canonical upper-case.
type Format string

const (
	// FormatSTEP is the primary assembly exchange format.
	FormatSTEP Format = "STEP"
	// FormatIGES is the secondary exchange format.
	FormatIGES Format = "IGES"
	// FormatFCStd is the worker's native application document.
	FormatFCStd Format = "FCSTD"
	// FormatSTL is the primary tessellated mesh format.
	FormatSTL Format = "STL"
	// FormatOBJ is the secondary tessellated mesh format.
	FormatOBJ Format = "OBJ"
)

// priority is the fixed preference order used when several formats exist.
var priority = []Format{FormatSTEP, FormatIGES, FormatFCStd, FormatSTL, FormatOBJ}

var formatExtensions = map[Format]string{
	FormatSTEP:  "STEP",
	FormatIGES:  "IGES",
	FormatFCStd: "FCStd",
	FormatSTL:   "STL",
	FormatOBJ:   "OBJ",
}

var formatDescriptions = map[Format]string{
	FormatSTEP:  "STEP assembly for CAD exchange",
	FormatIGES:  "IGES surface exchange format",
	FormatFCStd: "native FreeCAD document",
	FormatSTL:   "STL mesh for 3D printing",
	FormatOBJ:   "OBJ mesh for 3D graphics",
}

// DefaultPriority returns the fixed format preference order.
func DefaultPriority() []Format {
	cp := make([]Format, len(priority))
	copy(cp, priority)
	return cp
}

// ParseFormat converts a tag, extension, or filename suffix into a known
// Format. Matching is case-insensitive and tolerates a leading dot.
func ParseFormat(value string) (Format, bool) {
	normalized := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(value), "."))
	if normalized == "" {
		return "", false
	}
	for _, f := range priority {
		if string(f) == normalized {
			return f, true
		}
	}
	return "", false
}

// FormatForKey inspects an object key's extension and returns the recognized
// format, if any.
func FormatForKey(key string) (Format, bool) {
	return ParseFormat(path.Ext(key))
}

// Extension returns the worker's canonical file extension for the format,
// without a leading dot.
func (f Format) Extension() string {
	return formatExtensions[f]
}

// Description returns a short human label for the format.
func (f Format) Description() string {
	return formatDescriptions[f]
}
