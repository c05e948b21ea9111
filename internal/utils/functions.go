package utils

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CacheBust appends the build version as a query parameter so every
// session fetches manifest-era resources fresh.
func CacheBust(rawURL, version string) string {
	if version == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "v=" + version
}

// TriggerExtension reports whether the path ends in one of the
// trigger-download extensions. Matching is case-insensitive and handles
// compound extensions like .tar.gz.
func TriggerExtension(path string, extensions []string) bool {
	lower := strings.ToLower(path)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}

// AssetEntry is one item of a YAML batch download list.
type AssetEntry struct {
	Path       string `yaml:"path"`
	OutputPath string `yaml:"op"`
}

func ReadAssetList(listFile string) ([]AssetEntry, error) {
	data, err := os.ReadFile(listFile)
	if err != nil {
		return nil, fmt.Errorf("error reading asset list: %w", err)
	}
	var entries []AssetEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing asset list: %w", err)
	}
	for i, entry := range entries {
		if entry.Path == "" {
			return nil, fmt.Errorf("asset list entry %d has no path", i)
		}
	}
	return entries, nil
}

func RenewOutputPath(outputPath string) string {
	base := outputPath
	ext := ""
	if idx := strings.LastIndex(outputPath, "."); idx > 0 {
		base = outputPath[:idx]
		ext = outputPath[idx:]
	}
	index := 1
	for {
		candidate := fmt.Sprintf("%s-(%d)%s", base, index, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		index++
	}
}
