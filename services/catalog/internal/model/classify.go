package model

import "strings"

// Asset type labels as surfaced in the catalog.
const (
	TypeFolderAsset = "Folder"
	TypeFileAsset   = "File"
	TypeDataFile    = "Data File"
	TypeScriptFile  = "Script"
	TypeTextFile    = "Text File"
	TypeArchiveFile = "Archive"
	TypeTableAsset  = "Table"
	TypeQueueAsset  = "Queue"
)

var extensionTypes = map[string]string{
	".csv":     TypeDataFile,
	".tsv":     TypeDataFile,
	".json":    TypeDataFile,
	".parquet": TypeDataFile,
	".avro":    TypeDataFile,
	".orc":     TypeDataFile,
	".sql":     TypeScriptFile,
	".py":      TypeScriptFile,
	".scala":   TypeScriptFile,
	".r":       TypeScriptFile,
	".txt":     TypeTextFile,
	".log":     TypeTextFile,
	".zip":     TypeArchiveFile,
	".gz":      TypeArchiveFile,
	".tar":     TypeArchiveFile,
	".bz2":     TypeArchiveFile,
}

// Classify maps an object key to an asset type by its extension. Keys ending
// in a separator are folders; unknown extensions fall back to File.
func Classify(key string) string {
	if strings.HasSuffix(key, "/") {
		return TypeFolderAsset
	}
	lower := strings.ToLower(key)
	if idx := strings.LastIndex(lower, "."); idx >= 0 {
		if t, ok := extensionTypes[lower[idx:]]; ok {
			return t
		}
	}
	return TypeFileAsset
}

// BaseName returns the final path segment of an object key.
func BaseName(key string) string {
	trimmed := strings.TrimSuffix(key, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// SchemaOf returns the path prefix of an object key, or "/" for objects at the
// container root, so downstream grouping is always non-empty.
func SchemaOf(key string) string {
	trimmed := strings.TrimSuffix(key, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx > 0 {
		return trimmed[:idx]
	}
	return "/"
}
