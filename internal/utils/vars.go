package utils

// DefaultConcurrency is the number of part requests issued per batch
// during reconstruction.
const DefaultConcurrency = 6

const DefaultBufferSize = 1024 * 256 // 256KB copy buffer

// ManifestFile is the well-known path of the chunk manifest on the origin.
const ManifestFile = "chunked-assets.json"

// MetaFile is the per-asset metadata document inside a chunked directory.
const MetaFile = "meta.json"

// PartPrefix is the file name prefix of individual chunk parts.
const PartPrefix = "part_"

// HeaderReconstructed marks responses that were reassembled from parts
// instead of being forwarded from the origin.
const HeaderReconstructed = "X-Splitwire-Reconstructed"

const ToolUserAgent = "splitwire/1337"

// DefaultTriggerExtensions is the set of path extensions that turn a
// navigation into an in-UI download instead of a streamed response.
var DefaultTriggerExtensions = []string{".zip", ".apk", ".exe", ".dmg", ".tar.gz", ".pdf"}
