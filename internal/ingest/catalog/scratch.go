package catalog

import (
	"bufio"
	"encoding/json"
	"os"

	"biowatch/internal/apperr"
)

// scratchRecord is one compact line of the append-only scratch file written
// during the images pass and consumed by both the media-insert pass and the
// annotations pass (spec §4.F step 3: "append one compact record per image
// to the scratch file containing the fields annotations will need").
type scratchRecord struct {
	ID       string `json:"id"`
	Location string `json:"loc,omitempty"`
	SeqID    string `json:"seq,omitempty"`
	Datetime string `json:"ts,omitempty"`
	FileName string `json:"file"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
}

// scratchWriter appends newline-delimited scratchRecord JSON to a file,
// created fresh (truncating anything left over from a prior failed run).
type scratchWriter struct {
	f *os.File
	w *bufio.Writer
}

func newScratchWriter(path string) (*scratchWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "create scratch file %s", path)
	}
	return &scratchWriter{f: f, w: bufio.NewWriterSize(f, 256*1024)}, nil
}

func (s *scratchWriter) Append(rec scratchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "marshal scratch record")
	}
	if _, err := s.w.Write(data); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "write scratch record")
	}
	return s.w.WriteByte('\n')
}

func (s *scratchWriter) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return apperr.Wrap(apperr.KindIOFailure, err, "flush scratch file")
	}
	return s.f.Close()
}

// readScratchFile loads every record into memory, keyed by id. Spec §4.F
// step 7 names this the importer's memory ceiling: it trades one full
// in-memory index of (id -> small record) for never needing to join images
// and annotations in SQL or keep the whole source catalog resident.
func readScratchFile(path string) (map[string]scratchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "open scratch file %s", path)
	}
	defer f.Close()

	out := make(map[string]scratchRecord)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec scratchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, apperr.Wrap(apperr.KindParse, err, "parse scratch record")
		}
		out[rec.ID] = rec
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan scratch file %s", path)
	}
	return out, nil
}

// forEachScratchRecord streams the scratch file line by line without
// loading it all into memory, used by the media-insert pass (spec §4.F step
// 6), which only needs one record at a time.
func forEachScratchRecord(path string, fn func(scratchRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "open scratch file %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec scratchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return apperr.Wrap(apperr.KindParse, err, "parse scratch record")
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return apperr.Wrap(apperr.KindIOFailure, sc.Err(), "scan scratch file %s", path)
}
