package query

import (
	"context"
	"database/sql"
	"sort"

	"biowatch/internal/apperr"
)

// ActivityBucket is one partition of the deployment-activity time range.
type ActivityBucket struct {
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
	Count       int    `json:"count"`
}

// DeploymentActivity is one deployment's per-period observation counts plus
// the study-wide 95th-percentile count across all non-zero buckets.
type DeploymentActivity struct {
	DeploymentID     string           `json:"deploymentId"`
	Buckets          []ActivityBucket `json:"buckets"`
	PercentileCount  float64          `json:"percentileCount"`
}

const activityPeriods = 20

// ListDeployments returns one row per unique (latitude, longitude),
// preferring the most recent deployment_start per location_id (spec §4.D).
func ListDeployments(ctx context.Context, db *sql.DB) ([]Deployment, error) {
	done := observeQuery("list_deployments")
	rows, err := db.QueryContext(ctx, `
		SELECT d.deployment_id, d.location_id, d.location_name, d.deployment_start,
		       d.deployment_end, d.latitude, d.longitude, d.camera_model, d.camera_id,
		       d.coordinate_uncertainty
		FROM deployments d
		INNER JOIN (
			SELECT location_id, MAX(deployment_start) AS latest_start
			FROM deployments
			GROUP BY location_id
		) latest ON latest.location_id = d.location_id AND latest.latest_start = d.deployment_start
		GROUP BY d.latitude, d.longitude
		ORDER BY d.deployment_start DESC
	`)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "list_deployments")
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		var locationName, cameraModel, cameraID sql.NullString
		var uncertainty sql.NullInt64
		if err := rows.Scan(&d.DeploymentID, &d.LocationID, &locationName, &d.DeploymentStart,
			&d.DeploymentEnd, &d.Latitude, &d.Longitude, &cameraModel, &cameraID, &uncertainty); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan deployment")
		}
		d.LocationName = locationName.String
		d.CameraModel = cameraModel.String
		d.CameraID = cameraID.String
		if uncertainty.Valid {
			v := int(uncertainty.Int64)
			d.CoordinateUncertainty = &v
		}
		out = append(out, d)
	}
	done(rows.Err())
	return out, rows.Err()
}

// DeploymentsActivity partitions [min(deployment_start), max(deployment_end)]
// into ~20 equal periods and returns, per deployment, the per-period
// observation count, plus the 95th-percentile count across non-zero
// buckets. Aggregation is pushed entirely to SQL via a single
// SUM(CASE WHEN ...) per period (spec §4.D).
func DeploymentsActivity(ctx context.Context, db *sql.DB) ([]DeploymentActivity, error) {
	done := observeQuery("deployments_activity")

	var minStart, maxEnd sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MIN(deployment_start), MAX(deployment_end) FROM deployments`).
		Scan(&minStart, &maxEnd); err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "deployments_activity bounds")
	}
	if !minStart.Valid || !maxEnd.Valid {
		done(nil)
		return nil, nil
	}

	caseExprs, args, err := buildPeriodCaseExpressions(ctx, db, minStart.String, maxEnd.String, activityPeriods)
	if err != nil {
		done(err)
		return nil, err
	}

	deployIDs, err := listDeploymentIDs(ctx, db)
	if err != nil {
		done(err)
		return nil, err
	}

	result := make([]DeploymentActivity, 0, len(deployIDs))
	for _, id := range deployIDs {
		counts, err := fetchPeriodCounts(ctx, db, "deployment_id", id, caseExprs, args)
		if err != nil {
			done(err)
			return nil, err
		}
		result = append(result, DeploymentActivity{
			DeploymentID:    id,
			Buckets:         counts,
			PercentileCount: percentile95NonZero(counts),
		})
	}
	done(nil)
	return result, nil
}

// LocationsActivity is the same shape as DeploymentsActivity but grouped by
// unique coordinate pair instead of deployment id.
func LocationsActivity(ctx context.Context, db *sql.DB) ([]DeploymentActivity, error) {
	done := observeQuery("locations_activity")

	var minStart, maxEnd sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MIN(deployment_start), MAX(deployment_end) FROM deployments`).
		Scan(&minStart, &maxEnd); err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "locations_activity bounds")
	}
	if !minStart.Valid || !maxEnd.Valid {
		done(nil)
		return nil, nil
	}

	caseExprs, args, err := buildPeriodCaseExpressions(ctx, db, minStart.String, maxEnd.String, activityPeriods)
	if err != nil {
		done(err)
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT location_id FROM deployments ORDER BY location_id`)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "list locations")
	}
	var locationIDs []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			rows.Close()
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan location")
		}
		locationIDs = append(locationIDs, loc)
	}
	rows.Close()

	result := make([]DeploymentActivity, 0, len(locationIDs))
	for _, loc := range locationIDs {
		counts, err := fetchPeriodCountsByLocation(ctx, db, loc, caseExprs, args)
		if err != nil {
			done(err)
			return nil, err
		}
		result = append(result, DeploymentActivity{
			DeploymentID:    loc,
			Buckets:         counts,
			PercentileCount: percentile95NonZero(counts),
		})
	}
	done(nil)
	return result, nil
}

func listDeploymentIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT deployment_id FROM deployments ORDER BY deployment_id`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "list deployment ids")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan deployment id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// periodCaseArgs pairs each period boundary pair used by a SUM(CASE WHEN...)
// expression.
type periodCaseArgs struct {
	start, end string
}

// buildPeriodCaseExpressions computes `periods` equal-width time buckets
// between minStart and maxEnd and returns the SQL CASE-WHEN snippets (one
// per bucket) plus their bind arguments, for use in a single aggregate
// query per deployment/location.
func buildPeriodCaseExpressions(ctx context.Context, db *sql.DB, minStart, maxEnd string, periods int) ([]string, []periodCaseArgs, error) {
	rows, err := db.QueryContext(ctx, `
		WITH bounds AS (SELECT julianday(?) AS lo, julianday(?) AS hi)
		SELECT
			datetime(lo + (hi - lo) * (n * 1.0 / ?)) AS period_start,
			datetime(lo + (hi - lo) * ((n + 1) * 1.0 / ?)) AS period_end
		FROM bounds, (
			WITH RECURSIVE seq(n) AS (SELECT 0 UNION ALL SELECT n + 1 FROM seq WHERE n < ? - 1)
			SELECT n FROM seq
		)
	`, minStart, maxEnd, periods, periods, periods)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindIOFailure, err, "compute activity periods")
	}
	defer rows.Close()

	var exprs []string
	var args []periodCaseArgs
	for rows.Next() {
		var start, end string
		if err := rows.Scan(&start, &end); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindIOFailure, err, "scan activity period")
		}
		exprs = append(exprs, "SUM(CASE WHEN event_start >= ? AND event_start < ? THEN 1 ELSE 0 END)")
		args = append(args, periodCaseArgs{start: start, end: end})
	}
	return exprs, args, rows.Err()
}

func fetchPeriodCounts(ctx context.Context, db *sql.DB, byColumn, value string, caseExprs []string, periodArgs []periodCaseArgs) ([]ActivityBucket, error) {
	if len(caseExprs) == 0 {
		return nil, nil
	}
	query := "SELECT " + join(caseExprs, ", ") + " FROM observations WHERE " + byColumn + " = ?"
	args := make([]interface{}, 0, len(periodArgs)*2+1)
	for _, p := range periodArgs {
		args = append(args, p.start, p.end)
	}
	args = append(args, value)

	counts := make([]int, len(caseExprs))
	scanTargets := make([]interface{}, len(counts))
	for i := range counts {
		scanTargets[i] = &counts[i]
	}
	if err := db.QueryRowContext(ctx, query, args...).Scan(scanTargets...); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "fetch period counts")
	}

	out := make([]ActivityBucket, len(counts))
	for i, c := range counts {
		out[i] = ActivityBucket{PeriodStart: periodArgs[i].start, PeriodEnd: periodArgs[i].end, Count: c}
	}
	return out, nil
}

func fetchPeriodCountsByLocation(ctx context.Context, db *sql.DB, locationID string, caseExprs []string, periodArgs []periodCaseArgs) ([]ActivityBucket, error) {
	if len(caseExprs) == 0 {
		return nil, nil
	}
	query := "SELECT " + join(caseExprs, ", ") +
		" FROM observations o JOIN deployments d ON d.deployment_id = o.deployment_id WHERE d.location_id = ?"
	args := make([]interface{}, 0, len(periodArgs)*2+1)
	for _, p := range periodArgs {
		args = append(args, p.start, p.end)
	}
	args = append(args, locationID)

	counts := make([]int, len(caseExprs))
	scanTargets := make([]interface{}, len(counts))
	for i := range counts {
		scanTargets[i] = &counts[i]
	}
	if err := db.QueryRowContext(ctx, query, args...).Scan(scanTargets...); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "fetch period counts by location")
	}

	out := make([]ActivityBucket, len(counts))
	for i, c := range counts {
		out[i] = ActivityBucket{PeriodStart: periodArgs[i].start, PeriodEnd: periodArgs[i].end, Count: c}
	}
	return out, nil
}

// percentile95NonZero returns the 95th percentile over the multiset of
// non-zero bucket counts (spec §8 testable property 8).
func percentile95NonZero(buckets []ActivityBucket) float64 {
	var nonZero []int
	for _, b := range buckets {
		if b.Count > 0 {
			nonZero = append(nonZero, b.Count)
		}
	}
	if len(nonZero) == 0 {
		return 0
	}
	sort.Ints(nonZero)
	rank := 0.95 * float64(len(nonZero)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(nonZero) {
		return float64(nonZero[lo])
	}
	frac := rank - float64(lo)
	return float64(nonZero[lo])*(1-frac) + float64(nonZero[hi])*frac
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// SetDeploymentLatitude updates one deployment's latitude.
func SetDeploymentLatitude(ctx context.Context, db *sql.DB, deploymentID string, lat float64) error {
	done := observeQuery("set_deployment_latitude")
	res, err := db.ExecContext(ctx, `UPDATE deployments SET latitude = ? WHERE deployment_id = ?`, lat, deploymentID)
	done(err)
	return mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "deployment %s not found", deploymentID))
}

// SetDeploymentLongitude updates one deployment's longitude.
func SetDeploymentLongitude(ctx context.Context, db *sql.DB, deploymentID string, lon float64) error {
	done := observeQuery("set_deployment_longitude")
	res, err := db.ExecContext(ctx, `UPDATE deployments SET longitude = ? WHERE deployment_id = ?`, lon, deploymentID)
	done(err)
	return mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "deployment %s not found", deploymentID))
}

// SetLocationName updates the location name for every deployment sharing the
// given location_id (spec §4.D: "applies to all deployments sharing a
// location_id").
func SetLocationName(ctx context.Context, db *sql.DB, locationID, name string) error {
	done := observeQuery("set_location_name")
	res, err := db.ExecContext(ctx, `UPDATE deployments SET location_name = ? WHERE location_id = ?`, name, locationID)
	done(err)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "set_location_name")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "location %s not found", locationID)
	}
	return nil
}
