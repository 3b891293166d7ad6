package query

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"biowatch/internal/apperr"
	"biowatch/internal/schema"
)

// UpdateObservationClassification overwrites the taxonomic/behavioral
// classification fields of an observation, marking it as human-reviewed
// (spec §4.D: a reclassification is always attributed to a human reviewer,
// never left tagged as the original machine classification).
func UpdateObservationClassification(ctx context.Context, db *sql.DB, observationID string, scientificName, commonName *string, count int, lifeStage, sex, behavior *string, classifiedBy string) error {
	done := observeQuery("update_observation_classification")

	normCount := count
	if normCount < 1 {
		normCount = 1
	}
	var normLifeStage, normSex *string
	if lifeStage != nil {
		v := schema.NormalizeLifeStage(*lifeStage)
		normLifeStage = &v
	}
	if sex != nil {
		v := schema.NormalizeSex(*sex)
		normSex = &v
	}

	res, err := db.ExecContext(ctx, `
		UPDATE observations
		SET scientific_name = ?, common_name = ?, count = ?, life_stage = ?, sex = ?, behavior = ?,
		    classification_method = ?, classified_by = ?, classification_timestamp = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE observation_id = ?
	`, scientificName, commonName, normCount, normLifeStage, normSex, behavior,
		string(schema.ClassificationHuman), classifiedBy, observationID)
	done(err)
	return mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "observation %s not found", observationID))
}

// UpdateObservationBBox overwrites an observation's bounding box, clamping
// to the valid [0,1] coordinate space (spec §4.C, §9).
func UpdateObservationBBox(ctx context.Context, db *sql.DB, observationID string, box schema.BBox) error {
	done := observeQuery("update_observation_bbox")
	clamped := schema.ClampBBox(box)
	res, err := db.ExecContext(ctx, `
		UPDATE observations SET bbox_x = ?, bbox_y = ?, bbox_width = ?, bbox_height = ?
		WHERE observation_id = ?
	`, clamped.X, clamped.Y, clamped.Width, clamped.Height, observationID)
	done(err)
	return mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "observation %s not found", observationID))
}

// DeleteObservation removes one observation row. Deleting an observation
// never deletes its media; a media item with its last observation removed
// becomes blank again (spec §4.D, §9).
func DeleteObservation(ctx context.Context, db *sql.DB, observationID string) error {
	done := observeQuery("delete_observation")
	res, err := db.ExecContext(ctx, `DELETE FROM observations WHERE observation_id = ?`, observationID)
	done(err)
	return mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "observation %s not found", observationID))
}

// CreateObservation inserts a brand new human-authored observation against
// an existing media item, validating the observation type and clamping the
// bbox. Event timestamps on obs are neither validated nor stored: the new
// row's event_start and event_end are left null. A fresh observation_id is
// minted with google/uuid (spec §4.E/§4.F use the same generator for
// event-expansion ids).
func CreateObservation(ctx context.Context, db *sql.DB, mediaID string, obs Observation) (string, error) {
	done := observeQuery("create_observation")

	if _, err := schema.ValidateObservationType(obs.ObservationType); err != nil {
		done(err)
		return "", err
	}

	var deploymentID string
	if err := db.QueryRowContext(ctx, `SELECT deployment_id FROM media WHERE media_id = ?`, mediaID).Scan(&deploymentID); err != nil {
		done(err)
		if err == sql.ErrNoRows {
			return "", apperr.New(apperr.KindNotFound, "media %s not found", mediaID)
		}
		return "", apperr.Wrap(apperr.KindIOFailure, err, "create_observation: lookup media")
	}

	count := obs.Count
	if count < 1 {
		count = 1
	}

	box := schema.ClampBBox(schema.BBox{
		X:      derefFloat(obs.BBoxX),
		Y:      derefFloat(obs.BBoxY),
		Width:  derefFloat(obs.BBoxWidth),
		Height: derefFloat(obs.BBoxHeight),
	})

	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO observations (
			observation_id, media_id, deployment_id, scientific_name, common_name,
			observation_type, count, life_stage, sex, behavior,
			bbox_x, bbox_y, bbox_width, bbox_height,
			classification_method, classified_by, classification_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	`, id, mediaID, deploymentID, obs.ScientificName, obs.CommonName,
		obs.ObservationType, count, obs.LifeStage, obs.Sex, obs.Behavior,
		box.X, box.Y, box.Width, box.Height,
		string(schema.ClassificationHuman), obs.ClassifiedBy)
	done(err)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIOFailure, err, "create_observation insert")
	}
	return id, nil
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
