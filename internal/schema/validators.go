package schema

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"biowatch/internal/apperr"
)

// ObservationType enumerates the allowed values of observations.observation_type.
type ObservationType string

const (
	ObservationAnimal       ObservationType = "animal"
	ObservationHuman        ObservationType = "human"
	ObservationVehicle      ObservationType = "vehicle"
	ObservationBlank        ObservationType = "blank"
	ObservationUnknown      ObservationType = "unknown"
	ObservationUnclassified ObservationType = "unclassified"
)

var validObservationTypes = map[ObservationType]bool{
	ObservationAnimal: true, ObservationHuman: true, ObservationVehicle: true,
	ObservationBlank: true, ObservationUnknown: true, ObservationUnclassified: true,
}

// ClassificationMethod enumerates observations.classification_method.
type ClassificationMethod string

const (
	ClassificationHuman   ClassificationMethod = "human"
	ClassificationMachine ClassificationMethod = "machine"
)

var validClassificationMethods = map[ClassificationMethod]bool{
	ClassificationHuman: true, ClassificationMachine: true,
}

// LifeStage enumerates observations.life_stage.
var validLifeStages = map[string]bool{
	"adult": true, "subadult": true, "juvenile": true, "unknown": true,
}

// Sex enumerates observations.sex.
var validSexes = map[string]bool{
	"male": true, "female": true, "unknown": true,
}

// ContributorRole enumerates the roles permitted in a study's contributors
// JSON blob. Any non-conforming role is mapped to "contributor" on write
// (spec §3 invariant).
const (
	RoleContributor       = "contributor"
	RolePrincipalInvestig = "principal_investigator"
	RoleDataManager       = "data_manager"
)

var validContributorRoles = map[string]bool{
	RoleContributor: true, RolePrincipalInvestig: true, RoleDataManager: true,
}

// iso8601TZ matches an ISO-8601 timestamp with an explicit timezone
// designator (Z or ±HH:MM), seconds and fractional seconds optional.
var iso8601TZ = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:\d{2})$`,
)

// ValidateTimestamp checks an ISO-8601+TZ string, appending "Z" first if no
// timezone designator is present, per spec §3's sanitizer rule. It returns
// the (possibly repaired) string, or an InvalidInput error if the value is
// still not parseable after repair.
func ValidateTimestamp(raw string) (string, error) {
	candidate := raw
	if !hasTZDesignator(candidate) {
		candidate += "Z"
	}
	if !iso8601TZ.MatchString(candidate) {
		return "", apperr.New(apperr.KindInvalidInput, "timestamp %q is not ISO-8601 with a timezone designator", raw)
	}
	layout := timestampLayout(candidate)
	if _, err := time.Parse(layout, candidate); err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, err, "timestamp %q failed to parse", raw)
	}
	return candidate, nil
}

func hasTZDesignator(s string) bool {
	if len(s) == 0 {
		return false
	}
	if s[len(s)-1] == 'Z' {
		return true
	}
	// ±HH:MM suffix.
	if len(s) >= 6 {
		tail := s[len(s)-6:]
		if (tail[0] == '+' || tail[0] == '-') && tail[3] == ':' {
			return true
		}
	}
	return false
}

// timestampLayout picks the matching Go reference layout for a candidate
// ISO-8601+TZ string, accounting for the optional seconds/fractional-second
// components that ValidateTimestamp's regex allows.
func timestampLayout(s string) string {
	hasFraction := false
	hasSeconds := false
	for i := 10; i < len(s); i++ { // skip the date portion
		switch s[i] {
		case '.':
			hasFraction = true
		case ':':
			hasSeconds = hasSeconds || i == 16
		}
	}
	switch {
	case hasFraction:
		return "2006-01-02T15:04:05.999999999Z07:00"
	case hasSeconds:
		return "2006-01-02T15:04:05Z07:00"
	default:
		return "2006-01-02T15:04Z07:00"
	}
}

// ValidateObservationType rejects any value outside the enumerated set.
func ValidateObservationType(v string) (ObservationType, error) {
	t := ObservationType(v)
	if !validObservationTypes[t] {
		return "", apperr.New(apperr.KindInvalidInput, "unknown observation_type %q", v)
	}
	return t, nil
}

// ValidateClassificationMethod rejects any value outside {human, machine}.
func ValidateClassificationMethod(v string) (ClassificationMethod, error) {
	m := ClassificationMethod(v)
	if !validClassificationMethods[m] {
		return "", apperr.New(apperr.KindInvalidInput, "unknown classification_method %q", v)
	}
	return m, nil
}

// NormalizeLifeStage maps an arbitrary source value onto the enumerated set,
// defaulting to "unknown" rather than rejecting — life stage is advisory
// metadata, not a structural invariant.
func NormalizeLifeStage(v string) string {
	if validLifeStages[v] {
		return v
	}
	return "unknown"
}

// NormalizeSex maps an arbitrary source value onto the enumerated set.
func NormalizeSex(v string) string {
	if validSexes[v] {
		return v
	}
	return "unknown"
}

// NormalizeClassificationMethod maps an arbitrary source value onto
// {human, machine}, defaulting to "machine" when the source omits the
// field or supplies something unrecognized (spec §4.E step 2 enum map).
func NormalizeClassificationMethod(v string) string {
	m := ClassificationMethod(strings.ToLower(strings.TrimSpace(v)))
	if validClassificationMethods[m] {
		return string(m)
	}
	return string(ClassificationMachine)
}

// NormalizeContributorRole maps any non-conforming role to "contributor"
// (spec §3 invariant).
func NormalizeContributorRole(role string) string {
	if validContributorRoles[role] {
		return role
	}
	return RoleContributor
}

// ClampProbability clamps a classification probability or detection
// confidence into [0, 1].
func ClampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// minBBoxDimension is the floor applied to a zero-width or zero-height bbox
// (spec §3 invariant: "0 -> 1e-15 minimum for w/h").
const minBBoxDimension = 1e-15

// BBox is a normalized bounding box in image-fraction coordinates.
type BBox struct {
	X, Y, Width, Height float64
}

// ClampBBox enforces spec §3's bbox invariant: x, y in [0,1]; width, height
// in (0,1], clamping 0 to the minimum and anything above 1 to 1.
func ClampBBox(b BBox) BBox {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	clampWH := func(v float64) float64 {
		if v <= 0 {
			return minBBoxDimension
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return BBox{
		X:      clamp01(b.X),
		Y:      clamp01(b.Y),
		Width:  clampWH(b.Width),
		Height: clampWH(b.Height),
	}
}

// ValidateYear rejects a year outside [1970, 2100], per the
// update_media_timestamp operation's requirement (spec §4.D).
func ValidateYear(year int) error {
	if year < 1970 || year > 2100 {
		return apperr.New(apperr.KindInvalidInput, "year %d is outside the allowed range [1970, 2100]", year)
	}
	return nil
}

// NormalizeCount floors a count to at least 1 (spec §3: "count (positive
// integer)").
func NormalizeCount(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ValidateOpaqueJSON checks that raw is either empty/absent or syntactically
// valid JSON; it asserts no shape (spec §9: exif_data and model outputs are
// opaque).
func ValidateOpaqueJSON(raw string) error {
	if raw == "" {
		return nil
	}
	if !json.Valid([]byte(raw)) {
		return apperr.New(apperr.KindInvalidInput, "value is not valid JSON")
	}
	return nil
}

// ValidateContributors checks the opaque contributors JSON conforms to
// "array of {name, role}" and normalizes every role.
func ValidateContributors(raw string) (string, error) {
	if raw == "" {
		return "[]", nil
	}
	var list []struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, err, "contributors must be a JSON array of {name, role}")
	}
	for i := range list {
		list[i].Role = NormalizeContributorRole(list[i].Role)
	}
	out, err := json.Marshal(list)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "re-marshal contributors")
	}
	return string(out), nil
}

// ValidateModelOutput checks raw_output is valid JSON before persistence
// (spec §3: "must validate against one of the known model-specific schemas
// before persistence"). This implementation validates syntactic JSON
// structure uniformly; per-model schema shapes are the ML model's contract,
// not this core's (spec §1 non-goals: "the ML models themselves").
func ValidateModelOutput(raw string) error {
	if raw == "" {
		return apperr.New(apperr.KindInvalidInput, "raw_output must not be empty")
	}
	if !json.Valid([]byte(raw)) {
		return apperr.New(apperr.KindInvalidInput, "raw_output is not valid JSON")
	}
	return nil
}
