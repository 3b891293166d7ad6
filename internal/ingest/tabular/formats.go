package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"biowatch/internal/apperr"
)

// rawDeployment is a deployment row before sanitization.
type rawDeployment struct {
	DeploymentID, LocationID, LocationName string
	DeploymentStart, DeploymentEnd         string
	Latitude, Longitude                    float64
	CameraModel, CameraID                  string
	CoordinateUncertainty                  *int
}

// rawMedia is a media row before sanitization. Timestamp == "" means null.
type rawMedia struct {
	MediaID, DeploymentID                                    string
	Timestamp                                                string
	FilePath, FileName, ImportFolder, FolderName             string
	FileMediaType, ExifData                                  string
}

// rawObservation is an observation row before sanitization. MediaID == nil
// means the row is event-scoped and awaits expansion (spec §4.E step 4).
type rawObservation struct {
	ObservationID              string
	MediaID                    *string
	DeploymentID               string
	EventID                    *string
	EventStart, EventEnd       *string
	ScientificName, CommonName *string
	ObservationType            string
	ClassificationProbability  *float64
	CountRaw                   string
	Count                      int
	LifeStage, Sex, Behavior   string
	BBoxX, BBoxY               *float64
	BBoxWidth, BBoxHeight      *float64
	DetectionConfidence        *float64
	ClassificationMethod       string
	ClassifiedBy               *string
	ClassificationTimestamp    *string
}

// sourceAdapter resolves one source directory's layout and yields its three
// canonical row sets.
type sourceAdapter interface {
	name() string
	Deployments() ([]rawDeployment, error)
	Media() ([]rawMedia, error)
	Observations() ([]rawObservation, error)
}

func resolveAdapter(format Format, sourceDir string) (sourceAdapter, error) {
	switch format {
	case FormatStandardPackage:
		return &csvAdapter{format: format, dir: sourceDir, layout: standardPackageLayout}, nil
	case FormatVendorCSVA:
		return &csvAdapter{format: format, dir: sourceDir, layout: vendorALayout}, nil
	case FormatVendorCSVB:
		return &csvAdapter{format: format, dir: sourceDir, layout: vendorBLayout}, nil
	case FormatFolderScan:
		return &folderScanAdapter{dir: sourceDir}, nil
	default:
		return nil, apperr.New(apperr.KindInvalidInput, "unknown tabular ingestion format %q", format)
	}
}

// columnAliases maps a canonical field name to the list of header spellings
// a given vendor export is known to use for it, resolved case-insensitively.
type columnAliases map[string][]string

// csvLayout names the three CSV files a format's directory is expected to
// contain, plus the header aliasing needed to read each into canonical
// fields. The standardized package and the two vendor CSV shapes differ
// mainly in file naming and header spelling, not in structure, so one
// generic reader serves all three (spec §4.E: "two CSV-export shapes").
type csvLayout struct {
	deploymentsFile, mediaFile, observationsFile string
	deploymentCols, mediaCols, observationCols   columnAliases
}

var standardPackageLayout = csvLayout{
	deploymentsFile: "deployments.csv",
	mediaFile:       "media.csv",
	observationsFile: "observations.csv",
	deploymentCols: columnAliases{
		"deployment_id": {"deploymentID", "deployment_id"}, "location_id": {"locationID", "location_id"},
		"location_name": {"locationName", "location_name"}, "deployment_start": {"deploymentStart", "deployment_start"},
		"deployment_end": {"deploymentEnd", "deployment_end"}, "latitude": {"latitude"}, "longitude": {"longitude"},
		"camera_model": {"cameraModel", "camera_model"}, "camera_id": {"cameraID", "camera_id"},
		"coordinate_uncertainty": {"coordinateUncertainty", "coordinate_uncertainty"},
	},
	mediaCols: columnAliases{
		"media_id": {"mediaID", "media_id"}, "deployment_id": {"deploymentID", "deployment_id"},
		"timestamp": {"timestamp"}, "file_path": {"filePath", "file_path"}, "file_name": {"fileName", "file_name"},
		"file_media_type": {"fileMediaType", "file_media_type"}, "exif_data": {"exifData", "exif_data"},
	},
	observationCols: columnAliases{
		"observation_id": {"observationID", "observation_id"}, "media_id": {"mediaID", "media_id"},
		"deployment_id": {"deploymentID", "deployment_id"}, "event_id": {"eventID", "event_id"},
		"event_start": {"eventStart", "event_start"}, "event_end": {"eventEnd", "event_end"},
		"scientific_name": {"scientificName", "scientific_name"}, "common_name": {"commonName", "common_name"},
		"observation_type": {"observationType", "observation_type"},
		"classification_probability": {"classificationProbability", "classification_probability"},
		"count": {"count"}, "life_stage": {"lifeStage", "life_stage"}, "sex": {"sex"}, "behavior": {"behavior"},
		"bbox_x": {"bboxX", "bbox_x"}, "bbox_y": {"bboxY", "bbox_y"},
		"bbox_width": {"bboxWidth", "bbox_width"}, "bbox_height": {"bboxHeight", "bbox_height"},
		"detection_confidence": {"detectionConfidence", "detection_confidence"},
		"classification_method": {"classificationMethod", "classification_method"},
	},
}

// vendorALayout is a single combined export (one CSV per table, PascalCase
// headers, no event-scoped observations).
var vendorALayout = csvLayout{
	deploymentsFile:  "Deployments.csv",
	mediaFile:        "Media.csv",
	observationsFile: "Observations.csv",
	deploymentCols: columnAliases{
		"deployment_id": {"Deployment ID"}, "location_id": {"Location ID"}, "location_name": {"Location Name"},
		"deployment_start": {"Start Date"}, "deployment_end": {"End Date"},
		"latitude": {"Latitude"}, "longitude": {"Longitude"},
		"camera_model": {"Camera Model"}, "camera_id": {"Camera ID"},
	},
	mediaCols: columnAliases{
		"media_id": {"File ID"}, "deployment_id": {"Deployment ID"}, "timestamp": {"Date/Time"},
		"file_path": {"Path"}, "file_name": {"Filename"}, "file_media_type": {"Media Type"},
	},
	observationCols: columnAliases{
		"observation_id": {"Observation ID"}, "media_id": {"File ID"}, "deployment_id": {"Deployment ID"},
		"scientific_name": {"Species"}, "observation_type": {"Observation Type"},
		"classification_probability": {"Confidence"}, "count": {"Count"},
		"life_stage": {"Age"}, "sex": {"Sex"}, "behavior": {"Behavior"},
		"classification_method": {"Classification Method"},
	},
}

// vendorBLayout mirrors a lowercase-underscore academic export with bbox
// columns present.
var vendorBLayout = csvLayout{
	deploymentsFile:  "sites.csv",
	mediaFile:        "images.csv",
	observationsFile: "detections.csv",
	deploymentCols: columnAliases{
		"deployment_id": {"site_id"}, "location_id": {"site_id"}, "deployment_start": {"start_date"},
		"deployment_end": {"end_date"}, "latitude": {"lat"}, "longitude": {"lon"},
	},
	mediaCols: columnAliases{
		"media_id": {"image_id"}, "deployment_id": {"site_id"}, "timestamp": {"capture_time"},
		"file_path": {"path"}, "file_name": {"filename"},
	},
	observationCols: columnAliases{
		"observation_id": {"detection_id"}, "media_id": {"image_id"}, "deployment_id": {"site_id"},
		"scientific_name": {"species_scientific"}, "observation_type": {"class"},
		"classification_probability": {"confidence"}, "count": {"count"},
		"bbox_x": {"bbox_x"}, "bbox_y": {"bbox_y"}, "bbox_width": {"bbox_w"}, "bbox_height": {"bbox_h"},
		"detection_confidence": {"det_conf"},
		"classification_method": {"classification_method"},
	},
}

// csvAdapter implements sourceAdapter for the standardized package and both
// vendor CSV shapes, differing only by csvLayout.
type csvAdapter struct {
	format Format
	dir    string
	layout csvLayout
}

func (a *csvAdapter) name() string { return string(a.format) }

func (a *csvAdapter) Deployments() ([]rawDeployment, error) {
	records, err := readCSV(filepath.Join(a.dir, a.layout.deploymentsFile), a.layout.deploymentCols)
	if err != nil {
		return nil, err
	}
	out := make([]rawDeployment, 0, len(records))
	for _, rec := range records {
		d := rawDeployment{
			DeploymentID:    rec["deployment_id"],
			LocationID:      firstNonEmpty(rec["location_id"], rec["deployment_id"]),
			LocationName:    rec["location_name"],
			DeploymentStart: rec["deployment_start"],
			DeploymentEnd:   rec["deployment_end"],
			CameraModel:     rec["camera_model"],
			CameraID:        rec["camera_id"],
		}
		d.Latitude, _ = strconv.ParseFloat(rec["latitude"], 64)
		d.Longitude, _ = strconv.ParseFloat(rec["longitude"], 64)
		if v, err := strconv.Atoi(rec["coordinate_uncertainty"]); err == nil {
			d.CoordinateUncertainty = &v
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *csvAdapter) Media() ([]rawMedia, error) {
	records, err := readCSV(filepath.Join(a.dir, a.layout.mediaFile), a.layout.mediaCols)
	if err != nil {
		return nil, err
	}
	out := make([]rawMedia, 0, len(records))
	for _, rec := range records {
		fileName := rec["file_name"]
		if fileName == "" {
			fileName = filepath.Base(rec["file_path"])
		}
		out = append(out, rawMedia{
			MediaID:       rec["media_id"],
			DeploymentID:  rec["deployment_id"],
			Timestamp:     rec["timestamp"],
			FilePath:      rec["file_path"],
			FileName:      fileName,
			FolderName:    filepath.Base(filepath.Dir(rec["file_path"])),
			FileMediaType: rec["file_media_type"],
			ExifData:      rec["exif_data"],
		})
	}
	return out, nil
}

func (a *csvAdapter) Observations() ([]rawObservation, error) {
	records, err := readCSV(filepath.Join(a.dir, a.layout.observationsFile), a.layout.observationCols)
	if err != nil {
		return nil, err
	}
	out := make([]rawObservation, 0, len(records))
	for _, rec := range records {
		o := rawObservation{
			ObservationID:        rec["observation_id"],
			DeploymentID:         rec["deployment_id"],
			ObservationType:      strings.ToLower(rec["observation_type"]),
			CountRaw:             rec["count"],
			LifeStage:            rec["life_stage"],
			Sex:                  rec["sex"],
			Behavior:             rec["behavior"],
			ClassificationMethod: rec["classification_method"],
		}
		o.MediaID = nonEmptyPtr(rec["media_id"])
		o.ScientificName = nonEmptyPtr(rec["scientific_name"])
		o.CommonName = nonEmptyPtr(rec["common_name"])
		o.EventID = nonEmptyPtr(rec["event_id"])
		o.EventStart = nonEmptyPtr(rec["event_start"])
		o.EventEnd = nonEmptyPtr(rec["event_end"])
		if v, err := strconv.ParseFloat(rec["classification_probability"], 64); err == nil {
			o.ClassificationProbability = &v
		}
		if v, err := strconv.ParseFloat(rec["detection_confidence"], 64); err == nil {
			o.DetectionConfidence = &v
		}
		o.BBoxX = parseFloatPtr(rec["bbox_x"])
		o.BBoxY = parseFloatPtr(rec["bbox_y"])
		o.BBoxWidth = parseFloatPtr(rec["bbox_width"])
		o.BBoxHeight = parseFloatPtr(rec["bbox_height"])
		out = append(out, o)
	}
	return out, nil
}

// readCSV reads a CSV file header-first, then row by row (spec §4.E:
// "stream rows"), resolving each canonical column via the alias table.
// Returns one map[canonicalField]value per row.
func readCSV(path string, aliases columnAliases) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParse, err, "read header of %s", path)
	}

	headerIndex := make(map[string]int, len(header))
	for i, h := range header {
		headerIndex[strings.ToLower(strings.TrimSpace(h))] = i
	}

	resolve := make(map[string]int, len(aliases))
	for canonical, names := range aliases {
		for _, n := range names {
			if idx, ok := headerIndex[strings.ToLower(n)]; ok {
				resolve[canonical] = idx
				break
			}
		}
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		row := make(map[string]string, len(resolve))
		for canonical, idx := range resolve {
			if idx < len(record) {
				row[canonical] = strings.TrimSpace(record[idx])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
