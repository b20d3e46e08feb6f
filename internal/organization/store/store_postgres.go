package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"idverify/internal/organization/models"
	"idverify/pkg/platform/sentinel"
)

// PostgresStore persists organization settings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindRules(ctx context.Context, orgID uuid.UUID) (*models.VerificationRules, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT organization_id, require_document_expiry_check, enable_spoof_detection,
		       enable_behavioral_checks, enable_template_check, enable_tamper_check,
		       enable_quality_check, enable_ocr_field_check, enable_consistency_check,
		       enable_mrz_cross_check, enable_checksum_check, face_match_threshold, updated_at
		FROM organization_verification_rules WHERE organization_id = $1`, orgID)

	var (
		r       models.VerificationRules
		toggles [10]sql.NullBool
		thresh  sql.NullInt64
	)
	err := row.Scan(&r.OrganizationID, &toggles[0], &toggles[1], &toggles[2], &toggles[3],
		&toggles[4], &toggles[5], &toggles[6], &toggles[7], &toggles[8], &toggles[9],
		&thresh, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rules for %s: %w", orgID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find rules: %w", err)
	}

	targets := ruleFields(&r)
	for i, t := range toggles {
		if t.Valid {
			v := t.Bool
			*targets[i] = &v
		}
	}
	if thresh.Valid {
		n := int(thresh.Int64)
		r.FaceMatchThreshold = &n
	}
	return &r, nil
}

func (s *PostgresStore) SaveRules(ctx context.Context, r *models.VerificationRules) error {
	args := []any{r.OrganizationID}
	for _, f := range ruleFields(r) {
		args = append(args, nullBool(*f))
	}
	var thresh sql.NullInt64
	if r.FaceMatchThreshold != nil {
		thresh = sql.NullInt64{Int64: int64(*r.FaceMatchThreshold), Valid: true}
	}
	args = append(args, thresh, r.UpdatedAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_verification_rules (
			organization_id, require_document_expiry_check, enable_spoof_detection,
			enable_behavioral_checks, enable_template_check, enable_tamper_check,
			enable_quality_check, enable_ocr_field_check, enable_consistency_check,
			enable_mrz_cross_check, enable_checksum_check, face_match_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (organization_id) DO UPDATE SET
			require_document_expiry_check = EXCLUDED.require_document_expiry_check,
			enable_spoof_detection = EXCLUDED.enable_spoof_detection,
			enable_behavioral_checks = EXCLUDED.enable_behavioral_checks,
			enable_template_check = EXCLUDED.enable_template_check,
			enable_tamper_check = EXCLUDED.enable_tamper_check,
			enable_quality_check = EXCLUDED.enable_quality_check,
			enable_ocr_field_check = EXCLUDED.enable_ocr_field_check,
			enable_consistency_check = EXCLUDED.enable_consistency_check,
			enable_mrz_cross_check = EXCLUDED.enable_mrz_cross_check,
			enable_checksum_check = EXCLUDED.enable_checksum_check,
			face_match_threshold = EXCLUDED.face_match_threshold,
			updated_at = EXCLUDED.updated_at`, args...)
	if err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSubscription(ctx context.Context, orgID uuid.UUID) (*models.WebhookSubscription, error) {
	var (
		sub    models.WebhookSubscription
		events []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, url, events, updated_at
		FROM webhook_subscriptions WHERE organization_id = $1`, orgID).
		Scan(&sub.OrganizationID, &sub.URL, &events, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription for %s: %w", orgID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if err := json.Unmarshal(events, &sub.Events); err != nil {
		return nil, fmt.Errorf("unmarshal subscription events: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	events := sub.Events
	if events == nil {
		events = map[string]bool{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal subscription events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (organization_id, url, events, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id) DO UPDATE SET
			url = EXCLUDED.url, events = EXCLUDED.events, updated_at = EXCLUDED.updated_at`,
		sub.OrganizationID, sub.URL, raw, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// ruleFields lists the toggles in column order.
func ruleFields(r *models.VerificationRules) []**bool {
	return []**bool{
		&r.RequireDocumentExpiryCheck,
		&r.EnableSpoofDetection,
		&r.EnableBehavioralChecks,
		&r.EnableTemplateCheck,
		&r.EnableTamperCheck,
		&r.EnableQualityCheck,
		&r.EnableOCRFieldCheck,
		&r.EnableConsistencyCheck,
		&r.EnableMRZCrossCheck,
		&r.EnableChecksumCheck,
	}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
