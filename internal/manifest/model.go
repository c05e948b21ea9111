package manifest

// Manifest is the build-time index mapping original asset paths to their
// chunk storage locations. Produced once per build, immutable, fetched
// fresh per session (cache-busted by version).
type Manifest struct {
	Version string         `json:"version"`
	Assets  []Asset        `json:"assets"`
	Config  map[string]any `json:"config"`
}

// Asset describes one original file that was split into parts.
type Asset struct {
	OriginalPath string `json:"originalPath"`
	ChunkedPath  string `json:"chunkedPath"`
	Type         string `json:"type"` // css, js or other
	Size         int64  `json:"size"`
	Chunks       int    `json:"chunks"`
}

// ChunkMeta is co-located with an asset's parts and fetched once per
// reconstruction. TotalChunks must match Asset.Chunks and FileSize must
// match Asset.Size for the same asset.
type ChunkMeta struct {
	TotalChunks int    `json:"totalChunks"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
}
