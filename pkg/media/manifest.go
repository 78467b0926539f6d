package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterManifestName is the file name of the HLS master playlist.
const MasterManifestName = "master.m3u8"

// WriteMasterManifest renders the master playlist referencing the completed
// renditions, lowest bandwidth first, and writes it atomically into outDir.
//
// BANDWIDTH adds a 10% container overhead on top of the combined
// video+audio target bitrate, matching what players expect from VOD
// ladders.
func WriteMasterManifest(outDir string, results []RenditionResult) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, r := range results {
		bandwidth := int64(float64(r.Profile.Bitrate+128_000) * 1.1)
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			bandwidth, r.Profile.Width, r.Profile.Height)
		b.WriteString(r.ManifestPath)
		b.WriteString("\n")
	}

	path := filepath.Join(outDir, MasterManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}
