package tabular

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"biowatch/internal/apperr"
)

// mediaTypeByExt maps a file extension to an IANA media type, grounded on
// the teacher's indexer imageExtensions/videoExtensions/mimeTypes maps
// (internal/indexer/indexer.go), narrowed to the types camera traps emit.
var mediaTypeByExt = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
	".gif": "image/gif", ".bmp": "image/bmp", ".tif": "image/tiff", ".tiff": "image/tiff",
	".mp4": "video/mp4", ".mov": "video/quicktime", ".avi": "video/x-msvideo", ".mkv": "video/x-matroska",
}

// folderScanAdapter covers the ad-hoc layout: a plain directory tree of
// media files with no descriptor at all. One deployment is synthesized per
// top-level subdirectory (treated as a camera/location folder); media get
// no timestamp (there is no metadata to derive one from) and no
// observations (spec §4.E: "ad-hoc folder scan").
type folderScanAdapter struct {
	dir string
}

func (a *folderScanAdapter) name() string { return string(FormatFolderScan) }

func (a *folderScanAdapter) Deployments() ([]rawDeployment, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "read directory %s", a.dir)
	}
	var out []rawDeployment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, rawDeployment{
			DeploymentID:    e.Name(),
			LocationID:      e.Name(),
			DeploymentStart: "1970-01-01T00:00:00Z",
			DeploymentEnd:   "2100-01-01T00:00:00Z",
		})
	}
	return out, nil
}

func (a *folderScanAdapter) Media() ([]rawMedia, error) {
	var out []rawMedia
	err := filepath.WalkDir(a.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		mediaType, ok := mediaTypeByExt[ext]
		if !ok {
			return nil
		}
		rel, _ := filepath.Rel(a.dir, path)
		deploymentID := a.dir
		if parts := strings.SplitN(rel, string(filepath.Separator), 2); len(parts) == 2 {
			deploymentID = parts[0]
		}
		out = append(out, rawMedia{
			MediaID:       rel,
			DeploymentID:  deploymentID,
			FilePath:      path,
			FileName:      filepath.Base(path),
			ImportFolder:  a.dir,
			FolderName:    deploymentID,
			FileMediaType: mediaType,
		})
		return nil
	})
	return out, err
}

// Observations is empty for an ad-hoc folder scan: there is no
// classification data to ingest, only raw media.
func (a *folderScanAdapter) Observations() ([]rawObservation, error) {
	return nil, nil
}
