// Package catalog implements the streaming catalog importer (spec component
// F): a two-pass, memory-bounded import of multi-million-row COCO-style
// JSON catalogs, using a scratch file to carry image metadata from the
// images pass into the annotations pass instead of an in-database join.
package catalog

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"biowatch/internal/apperr"
	"biowatch/internal/logging"
	"biowatch/internal/memory"
	"biowatch/internal/metrics"
	"biowatch/internal/schema"
	"biowatch/internal/workers"
)

// insertBatchSize is the spec's "≈2,000" transaction-wrapped batch size for
// both the media-insert and the annotation-insert passes (§4.F steps 6-7).
const insertBatchSize = 2000

// blankSynonyms are category names that mean "no animal present"; an
// annotation whose category matches one (case-insensitively) produces no
// observation row (§4.F step 7).
var blankSynonyms = map[string]bool{
	"empty": true, "blank": true, "nothing": true,
}

// humanSynonyms / vehicleSynonyms map a handful of common camera-trap
// catalog category names onto the observation_type enum; everything else
// that isn't a blank synonym is classified "animal".
var humanSynonyms = map[string]bool{"human": true, "person": true, "people": true}
var vehicleSynonyms = map[string]bool{"vehicle": true, "car": true, "truck": true}

// ProgressFunc is invoked as a streaming pass consumes bytes of the source
// document. pass identifies which of the four streaming passes is running.
// Consumers must treat this as fire-and-forget best effort (spec §9:
// "the core must not assume the consumer is always awake") and must be safe
// to call concurrently: the categories, images, and annotation-count passes
// run on their own goroutines and may report progress at the same time.
type ProgressFunc func(pass string, bytesRead, totalBytes int64)

// Options configures one Import call.
type Options struct {
	// SourcePath is a local path to the catalog document, already
	// downloaded (and, if it was an archive, left as-is) by the path &
	// manifest layer's download collaborator. A .zip is extracted
	// in-place to a sibling temp directory; anything else is read as a
	// plain JSON file.
	SourcePath string
	// ScratchPath is the per-study scratch record file (study.Layout.
	// ScratchPath), owned exclusively by this importer for the duration
	// of the run.
	ScratchPath string
	// BaseURL is prepended to each image's file_name to build media.
	// file_path (§4.F step 6).
	BaseURL string
	// DatasetTitle/Description/Citation feed the metadata row inserted in
	// step 8; citation is lightly parsed into a contributor name.
	DatasetTitle       string
	DatasetDescription string
	DatasetCitation    string
	// Progress receives byte-granular progress for each streaming pass.
	// May be nil.
	Progress ProgressFunc
}

// Stats summarizes one completed import run.
type Stats struct {
	CategoriesLoaded        int
	ImagesLoaded            int
	AnnotationsTotal        int
	DeploymentsInserted     int
	MediaInserted           int
	ObservationsInserted    int
	ObservationsSkippedBlank int
}

const defaultSequenceGapSeconds = 60

// Import runs the full streaming pipeline against an already open, migrated
// study database. Callers are expected to have put the handle into import
// mode (spec §4.B) before calling this and to reset it afterward; the
// scratch file is always removed before Import returns, success or not.
func Import(ctx context.Context, db *sql.DB, opts Options) (Stats, error) {
	metrics.IngestRunsActive.Inc()
	defer metrics.IngestRunsActive.Dec()

	// A multi-GB catalog can hold tens of millions of rows across its three
	// streaming passes; the monitor gives the batch-insert loops below a
	// point to pause at if the host's GOMEMLIMIT is under pressure instead of
	// running the allocator into an OOM kill.
	mon := memory.NewMonitor(memory.DefaultConfig())
	mon.Start()
	defer mon.Stop()

	var stats Stats

	sourcePath, cleanupArchive, err := resolveSource(opts.SourcePath)
	if err != nil {
		return stats, err
	}
	defer cleanupArchive()

	// Cleanup is unconditional: spec §4.F step 9 / §5 cancellation policy
	// both require the scratch file gone on every exit path.
	defer func() {
		if err := os.Remove(opts.ScratchPath); err != nil && !os.IsNotExist(err) {
			logging.Warn("catalog import: failed to remove scratch file %s: %v", opts.ScratchPath, err)
		}
	}()

	// Passes 1-3 (categories, images->scratch, annotation count) each open
	// their own *os.File handle and only read; none depends on another's
	// result (annotationTotal only feeds progress reporting, consumed later).
	// Spec §5 models this core as "single-process, mixed parallelism" with
	// the JSON streaming parser itself as a suspension point, so running the
	// three scans concurrently instead of back-to-back is exactly the mixed
	// I/O-bound parallelism that section describes, and it cuts the wall
	// time these three whole-file passes take roughly three-fold on a multi
	// GB catalog. Concurrency is capped at workers.ForIO(3): never more
	// goroutines than there are passes, and fewer on a GOMAXPROCS=1 host.
	scanResult, err := runReadOnlyPasses(ctx, sourcePath, opts)
	if err != nil {
		return stats, err
	}
	categories := scanResult.categories
	seqBounds := scanResult.seqBounds
	deployBounds := scanResult.deployBounds
	stats.CategoriesLoaded = len(categories)
	stats.ImagesLoaded = scanResult.imagesLoaded
	stats.AnnotationsTotal = scanResult.annotationTotal

	// --- Deployment insert. ---
	n, err := insertDeployments(ctx, db, deployBounds)
	if err != nil {
		return stats, err
	}
	stats.DeploymentsInserted = n

	// --- Media insert, streamed from the scratch file. ---
	n, err = insertMediaFromScratch(ctx, db, opts.ScratchPath, opts.BaseURL, mon)
	if err != nil {
		return stats, err
	}
	stats.MediaInserted = n

	// --- Annotations pass: load scratch file fully, then stream
	// annotations, joining in memory. ---
	index, err := readScratchFile(opts.ScratchPath)
	if err != nil {
		return stats, err
	}
	inserted, skipped, err := insertObservations(ctx, sourcePath, db, categories, index, seqBounds, mon, opts.Progress)
	if err != nil {
		return stats, err
	}
	stats.ObservationsInserted = inserted
	stats.ObservationsSkippedBlank = skipped

	if err := insertMetadataRow(ctx, db, opts); err != nil {
		return stats, err
	}

	logging.Info("catalog import complete: %d categories, %d images, %d deployments, %d media, %d observations (%d blank skipped)",
		stats.CategoriesLoaded, stats.ImagesLoaded, stats.DeploymentsInserted, stats.MediaInserted,
		stats.ObservationsInserted, stats.ObservationsSkippedBlank)
	return stats, nil
}

// resolveSource extracts a .zip archive to a sibling temp directory and
// returns the path to the JSON document inside it, or returns sourcePath
// unchanged for a plain JSON file. The returned cleanup func removes any
// temp directory created.
func resolveSource(sourcePath string) (string, func(), error) {
	if !strings.EqualFold(filepath.Ext(sourcePath), ".zip") {
		return sourcePath, func() {}, nil
	}

	dir, err := os.MkdirTemp(filepath.Dir(sourcePath), "catalog-extract-*")
	if err != nil {
		return "", func() {}, apperr.Wrap(apperr.KindIOFailure, err, "create extraction directory")
	}
	cleanup := func() { os.RemoveAll(dir) }

	zr, err := zip.OpenReader(sourcePath)
	if err != nil {
		cleanup()
		return "", func() {}, apperr.Wrap(apperr.KindIOFailure, err, "open catalog archive %s", sourcePath)
	}
	defer zr.Close()

	var jsonPath string
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".json") {
			continue
		}
		destPath := filepath.Join(dir, filepath.Base(f.Name))
		if err := extractZipEntry(f, destPath); err != nil {
			cleanup()
			return "", func() {}, err
		}
		jsonPath = destPath
		break
	}
	if jsonPath == "" {
		cleanup()
		return "", func() {}, apperr.New(apperr.KindParse, "catalog archive %s contains no .json document", sourcePath)
	}
	return jsonPath, cleanup, nil
}

func extractZipEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "open archive entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "create extracted file %s", destPath)
	}
	defer out.Close()

	buf := make([]byte, 256*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return apperr.Wrap(apperr.KindIOFailure, werr, "write extracted file %s", destPath)
			}
		}
		if rerr != nil {
			if rerr.Error() == "EOF" {
				return nil
			}
			return apperr.Wrap(apperr.KindIOFailure, rerr, "read archive entry %s", f.Name)
		}
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func openCounted(path string, pass string, totalBytes int64, progress ProgressFunc) (*os.File, *countingReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindIOFailure, err, "open catalog document %s", path)
	}
	cr := &countingReader{src: f}
	if progress != nil {
		cr.onRead = func(n int64) {
			metrics.IngestProgressBytes.WithLabelValues(pass).Set(float64(n))
			progress(pass, n, totalBytes)
		}
	} else {
		cr.onRead = func(n int64) { metrics.IngestProgressBytes.WithLabelValues(pass).Set(float64(n)) }
	}
	return f, cr, nil
}

// readOnlyScanResult collects the output of the three independent read-only
// passes over the catalog document (categories, images->scratch,
// annotation count).
type readOnlyScanResult struct {
	categories      map[string]string
	seqBounds       map[string]*tsBounds
	deployBounds    map[string]*tsBounds
	imagesLoaded    int
	annotationTotal int
}

// runReadOnlyPasses runs the categories, images, and annotation-count passes
// concurrently, each against its own file handle on sourcePath. They share
// no mutable state and none consumes another's result, so running them
// concurrently is safe; concurrency is bounded by workers.ForIO(3), which
// runs at most two at a time on a GOMAXPROCS=1 host and all three from
// GOMAXPROCS=2 up.
func runReadOnlyPasses(ctx context.Context, sourcePath string, opts Options) (readOnlyScanResult, error) {
	totalBytes := fileSize(sourcePath)
	sem := make(chan struct{}, workers.ForIO(3))

	var result readOnlyScanResult
	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn()
		}()
	}

	run(func() {
		categories, err := loadCategories(ctx, sourcePath, totalBytes, opts.Progress)
		if err != nil {
			setErr(err)
			return
		}
		mu.Lock()
		result.categories = categories
		mu.Unlock()
	})
	run(func() {
		seqBounds, deployBounds, imagesLoaded, err := buildScratchFile(ctx, sourcePath, opts.ScratchPath, totalBytes, opts.Progress)
		if err != nil {
			setErr(err)
			return
		}
		mu.Lock()
		result.seqBounds, result.deployBounds, result.imagesLoaded = seqBounds, deployBounds, imagesLoaded
		mu.Unlock()
	})
	run(func() {
		annotationTotal, err := countAnnotations(ctx, sourcePath, totalBytes, opts.Progress)
		if err != nil {
			setErr(err)
			return
		}
		mu.Lock()
		result.annotationTotal = annotationTotal
		mu.Unlock()
	})

	wg.Wait()
	if firstErr != nil {
		return readOnlyScanResult{}, firstErr
	}
	return result, nil
}

type rawCategory struct {
	ID   interface{} `json:"id"`
	Name string      `json:"name"`
}

func loadCategories(ctx context.Context, path string, totalBytes int64, progress ProgressFunc) (map[string]string, error) {
	f, cr, err := openCounted(path, "catalog_categories", totalBytes, progress)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	categories := make(map[string]string)
	_, err = streamTopLevelArray(newNaNSanitizingReader(cr), "categories", func(dec *json.Decoder) error {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindCancelled, err, "catalog import cancelled")
		}
		var c rawCategory
		if err := dec.Decode(&c); err != nil {
			return apperr.Wrap(apperr.KindParse, err, "decode category")
		}
		categories[idString(c.ID)] = c.Name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

type rawImage struct {
	ID       interface{} `json:"id"`
	Location interface{} `json:"location"`
	SeqID    interface{} `json:"seq_id"`
	Datetime string      `json:"datetime"`
	FileName string      `json:"file_name"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
}

// tsBounds tracks the min/max of a set of timestamps as they're observed,
// without keeping the underlying set in memory.
type tsBounds struct {
	min, max time.Time
	set      bool
}

func (b *tsBounds) observe(t time.Time) {
	if !b.set {
		b.min, b.max, b.set = t, t, true
		return
	}
	if t.Before(b.min) {
		b.min = t
	}
	if t.After(b.max) {
		b.max = t
	}
}

func buildScratchFile(ctx context.Context, sourcePath, scratchPath string, totalBytes int64, progress ProgressFunc) (map[string]*tsBounds, map[string]*tsBounds, int, error) {
	f, cr, err := openCounted(sourcePath, "catalog_images", totalBytes, progress)
	if err != nil {
		return nil, nil, 0, err
	}
	defer f.Close()

	sw, err := newScratchWriter(scratchPath)
	if err != nil {
		return nil, nil, 0, err
	}

	seqBounds := make(map[string]*tsBounds)
	deployBounds := make(map[string]*tsBounds)
	count := 0

	_, streamErr := streamTopLevelArray(newNaNSanitizingReader(cr), "images", func(dec *json.Decoder) error {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindCancelled, err, "catalog import cancelled")
		}
		var img rawImage
		if err := dec.Decode(&img); err != nil {
			return apperr.Wrap(apperr.KindParse, err, "decode image")
		}

		id := idString(img.ID)
		location := idString(img.Location)
		seqID := idString(img.SeqID)
		isoTS, hasTS := deriveISOTimestamp(img.Datetime)

		if hasTS {
			if location != "" {
				b, ok := deployBounds[location]
				if !ok {
					b = &tsBounds{}
					deployBounds[location] = b
				}
				t, _ := time.Parse(time.RFC3339, isoTS)
				b.observe(t)
			}
			if seqID != "" {
				b, ok := seqBounds[seqID]
				if !ok {
					b = &tsBounds{}
					seqBounds[seqID] = b
				}
				t, _ := time.Parse(time.RFC3339, isoTS)
				b.observe(t)
			}
		} else if location != "" {
			if _, ok := deployBounds[location]; !ok {
				deployBounds[location] = &tsBounds{}
			}
		}

		rec := scratchRecord{ID: id, Location: location, SeqID: seqID, FileName: img.FileName, Width: img.Width, Height: img.Height}
		if hasTS {
			rec.Datetime = isoTS
		}
		if err := sw.Append(rec); err != nil {
			return err
		}
		count++
		return nil
	})

	closeErr := sw.Close()
	if streamErr != nil {
		return nil, nil, count, streamErr
	}
	if closeErr != nil {
		return nil, nil, count, closeErr
	}
	return seqBounds, deployBounds, count, nil
}

// deriveISOTimestamp parses a catalog image's free-form datetime field
// (commonly an EXIF-style "2021:06:01 08:30:00" or already-ISO string) into
// an ISO-8601 UTC string. Returns ok=false if datetime is empty or
// unparseable, in which case the image is treated as null-timestamp.
func deriveISOTimestamp(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	layouts := []string{
		"2006:01:02 15:04:05",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05Z"), true
		}
	}
	return "", false
}

func countAnnotations(ctx context.Context, sourcePath string, totalBytes int64, progress ProgressFunc) (int, error) {
	f, cr, err := openCounted(sourcePath, "catalog_annotations_count", totalBytes, progress)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	_, err = streamTopLevelArray(newNaNSanitizingReader(cr), "annotations", func(dec *json.Decoder) error {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindCancelled, err, "catalog import cancelled")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return apperr.Wrap(apperr.KindParse, err, "skip annotation during count pass")
		}
		count++
		return nil
	})
	return count, err
}

func insertDeployments(ctx context.Context, db *sql.DB, bounds map[string]*tsBounds) (int, error) {
	if len(bounds) == 0 {
		return 0, nil
	}
	start := time.Now()
	n := 0
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO deployments
				(deployment_id, location_id, location_name, deployment_start, deployment_end, latitude, longitude)
			VALUES (?, ?, ?, ?, ?, 0, 0)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for location, b := range bounds {
			if location == "" {
				continue
			}
			startTS, endTS := "1970-01-01T00:00:00Z", "1970-01-01T00:00:00Z"
			if b.set {
				startTS = b.min.UTC().Format("2006-01-02T15:04:05Z")
				endTS = b.max.UTC().Format("2006-01-02T15:04:05Z")
			}
			if _, err := stmt.ExecContext(ctx, location, location, location, startTS, endTS); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	metrics.IngestBatchDuration.WithLabelValues("catalog", "deployments").Observe(time.Since(start).Seconds())
	if err != nil {
		return n, apperr.Wrap(apperr.KindIOFailure, err, "insert catalog deployments")
	}
	metrics.IngestRowsProcessed.WithLabelValues("catalog", "deployments").Add(float64(n))
	return n, nil
}

func insertMediaFromScratch(ctx context.Context, db *sql.DB, scratchPath, baseURL string, mon *memory.Monitor) (int, error) {
	total := 0
	batch := make([]scratchRecord, 0, insertBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !mon.WaitIfPaused() {
			return apperr.New(apperr.KindCancelled, "catalog import cancelled while paused for memory pressure")
		}
		start := time.Now()
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT OR REPLACE INTO media
					(media_id, deployment_id, timestamp, file_path, file_name, file_media_type, favorite)
				VALUES (?, ?, ?, ?, ?, ?, 0)
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, rec := range batch {
				var ts interface{}
				if rec.Datetime != "" {
					ts = rec.Datetime
				}
				deploymentID := rec.Location
				if deploymentID == "" {
					deploymentID = "unknown"
				}
				if _, err := stmt.ExecContext(ctx, rec.ID, deploymentID, ts, baseURL+rec.FileName, rec.FileName, mediaTypeForFile(rec.FileName)); err != nil {
					return err
				}
			}
			return nil
		})
		metrics.IngestBatchDuration.WithLabelValues("catalog", "media").Observe(time.Since(start).Seconds())
		if err != nil {
			return apperr.Wrap(apperr.KindIOFailure, err, "insert catalog media batch")
		}
		metrics.IngestRowsProcessed.WithLabelValues("catalog", "media").Add(float64(len(batch)))
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err := forEachScratchRecord(scratchPath, func(rec scratchRecord) error {
		batch = append(batch, rec)
		if len(batch) >= insertBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

var extMediaType = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".gif": "image/gif",
	".mp4": "video/mp4", ".avi": "video/x-msvideo", ".mov": "video/quicktime",
	".wav": "audio/wav", ".mp3": "audio/mpeg",
}

func mediaTypeForFile(fileName string) string {
	if t, ok := extMediaType[strings.ToLower(filepath.Ext(fileName))]; ok {
		return t
	}
	return "image/*"
}

type rawAnnotation struct {
	ID         interface{} `json:"id"`
	ImageID    interface{} `json:"image_id"`
	CategoryID interface{} `json:"category_id"`
	BBox       []float64   `json:"bbox"`
	Score      *float64    `json:"score"`
}

func insertObservations(ctx context.Context, sourcePath string, db *sql.DB, categories map[string]string, images map[string]scratchRecord, seqBounds map[string]*tsBounds, mon *memory.Monitor, progress ProgressFunc) (inserted, skipped int, err error) {
	f, cr, err := openCounted(sourcePath, "catalog_annotations", fileSize(sourcePath), progress)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	type row struct {
		obsID, mediaID, deploymentID        string
		eventID, eventStart, eventEnd       sql.NullString
		name                                string
		obsType                             string
		count                               int
		bboxX, bboxY, bboxW, bboxH          sql.NullFloat64
		detectionConfidence                 sql.NullFloat64
	}
	batch := make([]row, 0, insertBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !mon.WaitIfPaused() {
			return apperr.New(apperr.KindCancelled, "catalog import cancelled while paused for memory pressure")
		}
		start := time.Now()
		txErr := withTx(ctx, db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO observations
					(observation_id, media_id, deployment_id, event_id, event_start, event_end,
					 scientific_name, common_name, observation_type, count,
					 bbox_x, bbox_y, bbox_width, bbox_height,
					 detection_confidence, classification_method)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'machine')
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range batch {
				if _, err := stmt.ExecContext(ctx, r.obsID, r.mediaID, r.deploymentID, r.eventID, r.eventStart, r.eventEnd,
					r.name, r.name, r.obsType, r.count, r.bboxX, r.bboxY, r.bboxW, r.bboxH, r.detectionConfidence); err != nil {
					return err
				}
			}
			return nil
		})
		metrics.IngestBatchDuration.WithLabelValues("catalog", "observations").Observe(time.Since(start).Seconds())
		if txErr != nil {
			return apperr.Wrap(apperr.KindIOFailure, txErr, "insert catalog observation batch")
		}
		metrics.IngestRowsProcessed.WithLabelValues("catalog", "observations").Add(float64(len(batch)))
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	_, streamErr := streamTopLevelArray(newNaNSanitizingReader(cr), "annotations", func(dec *json.Decoder) error {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindCancelled, err, "catalog import cancelled")
		}
		var a rawAnnotation
		if err := dec.Decode(&a); err != nil {
			return apperr.Wrap(apperr.KindParse, err, "decode annotation")
		}

		img, ok := images[idString(a.ImageID)]
		if !ok {
			logging.Debug("catalog import: annotation references unknown image_id %v, skipping", a.ImageID)
			return nil
		}

		name := categories[idString(a.CategoryID)]
		if blankSynonyms[strings.ToLower(name)] {
			skipped++
			return nil
		}

		r := row{
			obsID:        uuid.NewString(),
			mediaID:      img.ID,
			deploymentID: firstNonEmptyStr(img.Location, "unknown"),
			name:         name,
			obsType:      string(classifyObservationType(name)),
			count:        1,
		}
		if img.SeqID != "" {
			r.eventID = sql.NullString{String: img.SeqID, Valid: true}
		}
		start, end := eventBoundsFor(img, seqBounds)
		if start != "" {
			r.eventStart = sql.NullString{String: start, Valid: true}
		}
		if end != "" {
			r.eventEnd = sql.NullString{String: end, Valid: true}
		}

		if len(a.BBox) == 4 && img.Width > 0 && img.Height > 0 {
			box := schema.ClampBBox(schema.BBox{
				X:      a.BBox[0] / float64(img.Width),
				Y:      a.BBox[1] / float64(img.Height),
				Width:  a.BBox[2] / float64(img.Width),
				Height: a.BBox[3] / float64(img.Height),
			})
			r.bboxX = sql.NullFloat64{Float64: box.X, Valid: true}
			r.bboxY = sql.NullFloat64{Float64: box.Y, Valid: true}
			r.bboxW = sql.NullFloat64{Float64: box.Width, Valid: true}
			r.bboxH = sql.NullFloat64{Float64: box.Height, Valid: true}
		}
		if a.Score != nil {
			r.detectionConfidence = sql.NullFloat64{Float64: schema.ClampProbability(*a.Score), Valid: true}
		}

		batch = append(batch, r)
		if len(batch) >= insertBatchSize {
			return flush()
		}
		return nil
	})
	if streamErr != nil {
		return inserted, skipped, streamErr
	}
	if err := flush(); err != nil {
		return inserted, skipped, err
	}
	return inserted, skipped, nil
}

func firstNonEmptyStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// eventBoundsFor computes (event_start, event_end) for an annotation's
// image: the sequence's observed min/max timestamp, falling back to the
// image's own timestamp per spec §4.F step 7.
func eventBoundsFor(img scratchRecord, seqBounds map[string]*tsBounds) (string, string) {
	if img.SeqID != "" {
		if b, ok := seqBounds[img.SeqID]; ok && b.set {
			return b.min.UTC().Format("2006-01-02T15:04:05Z"), b.max.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	return img.Datetime, img.Datetime
}

func classifyObservationType(name string) schema.ObservationType {
	lower := strings.ToLower(name)
	switch {
	case humanSynonyms[lower]:
		return schema.ObservationHuman
	case vehicleSynonyms[lower]:
		return schema.ObservationVehicle
	default:
		return schema.ObservationAnimal
	}
}

func insertMetadataRow(ctx context.Context, db *sql.DB, opts Options) error {
	gap := defaultSequenceGapSeconds
	contributors := parseContributorsFromCitation(opts.DatasetCitation)
	_, err := db.ExecContext(ctx, `
		INSERT INTO study_metadata (id, name, title, description, created, importer_name, contributors, sequence_gap)
		VALUES (?, ?, ?, ?, ?, 'streaming_catalog', ?, ?)
	`, uuid.NewString(), opts.DatasetTitle, opts.DatasetTitle, opts.DatasetDescription,
		time.Now().UTC().Format("2006-01-02T15:04:05Z"), contributors, gap)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "insert catalog study metadata row")
	}
	return nil
}

// parseContributorsFromCitation does the "light parse" spec §4.F step 8
// calls for: lift whatever looks like an author name out of a citation
// string into a single contributor record. Free-form citation formats vary
// too widely to do more than this without a bibliographic parser, which
// nothing in the retrieved pack provides.
func parseContributorsFromCitation(citation string) string {
	citation = strings.TrimSpace(citation)
	if citation == "" {
		return "[]"
	}
	name := citation
	if idx := strings.IndexAny(citation, ".("); idx > 0 {
		name = strings.TrimSpace(citation[:idx])
	}
	rec := []map[string]string{{"name": name, "role": schema.RoleContributor}}
	data, err := json.Marshal(rec)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
