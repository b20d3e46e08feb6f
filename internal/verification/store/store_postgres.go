package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"idverify/internal/verification/models"
	"idverify/pkg/platform/sentinel"
	"idverify/pkg/platform/tx"
)

// PostgresStore persists verifications in PostgreSQL. Every method joins the
// transaction carried on ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed verification store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, fn)
}

const verificationColumns = `id, organization_id, document_type, status, match_score, risk_level,
	failure_reason, auto_approved, created_at, updated_at, verified_at`

func (s *PostgresStore) Create(ctx context.Context, v *models.Verification) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.OrganizationID, string(v.DocumentType), string(v.Status),
		nullInt(v.MatchScore), nullRisk(v.RiskLevel), nullString(v.FailureReason),
		v.AutoApproved, v.CreatedAt, v.UpdatedAt, nullTime(v.VerifiedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create verification: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE id = $1`, id)

	var (
		v             models.Verification
		docType       string
		status        string
		score         sql.NullInt64
		risk          sql.NullString
		failureReason sql.NullString
		verifiedAt    sql.NullTime
	)
	err := row.Scan(&v.ID, &v.OrganizationID, &docType, &status, &score, &risk,
		&failureReason, &v.AutoApproved, &v.CreatedAt, &v.UpdatedAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}

	v.DocumentType = models.DocumentType(docType)
	v.Status, err = models.ParseLegacyStatus(status)
	if err != nil {
		return nil, fmt.Errorf("find verification: %w", err)
	}
	if score.Valid {
		n := int(score.Int64)
		v.MatchScore = &n
	}
	if risk.Valid {
		r := models.RiskLevel(risk.String)
		v.RiskLevel = &r
	}
	if failureReason.Valid {
		v.FailureReason = &failureReason.String
	}
	if verifiedAt.Valid {
		v.VerifiedAt = &verifiedAt.Time
	}
	return &v, nil
}

func (s *PostgresStore) ListIDsByStatus(ctx context.Context, status models.Status) ([]uuid.UUID, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT id FROM verifications WHERE status = $1 ORDER BY updated_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list verifications by status: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan verification id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, v *models.Verification) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE verifications
		SET status = $2, match_score = $3, risk_level = $4, failure_reason = $5,
		    auto_approved = $6, updated_at = $7, verified_at = $8
		WHERE id = $1`,
		v.ID, string(v.Status), nullInt(v.MatchScore), nullRisk(v.RiskLevel),
		nullString(v.FailureReason), v.AutoApproved, v.UpdatedAt, nullTime(v.VerifiedAt),
	)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.Status, to models.Status, now time.Time) error {
	fromStrings := make([]string, len(from))
	for i, st := range from {
		fromStrings[i] = string(st)
	}
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE verifications SET status = $3, updated_at = $4
		WHERE id = $1 AND status = ANY($2)`,
		id, pq.Array(fromStrings), string(to), now,
	)
	if err != nil {
		return fmt.Errorf("transition verification status: %w", err)
	}
	return expectOneRow(res, sentinel.ErrConflict)
}

func (s *PostgresStore) PutIdentity(ctx context.Context, p *models.ExtractedIdentity) error {
	extracted, err := json.Marshal(nonNilMap(p.ExtractedFields))
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}
	confirmed := make([]string, 0, len(p.ConfirmedFields))
	for f, ok := range p.ConfirmedFields {
		if ok {
			confirmed = append(confirmed, string(f))
		}
	}
	frames := p.LivenessFrameRefs
	if frames == nil {
		frames = []string{}
	}

	_, err = tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO extracted_identities (
			verification_id, document_front_ref, document_back_ref, liveness_image_ref,
			liveness_video_ref, liveness_frame_refs, full_name, date_of_birth, id_number,
			address, expiry_date, extracted_fields, confirmed_fields, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (verification_id) DO UPDATE SET
			document_front_ref = EXCLUDED.document_front_ref,
			document_back_ref = EXCLUDED.document_back_ref,
			liveness_image_ref = EXCLUDED.liveness_image_ref,
			liveness_video_ref = EXCLUDED.liveness_video_ref,
			liveness_frame_refs = EXCLUDED.liveness_frame_refs,
			full_name = EXCLUDED.full_name,
			date_of_birth = EXCLUDED.date_of_birth,
			id_number = EXCLUDED.id_number,
			address = EXCLUDED.address,
			expiry_date = EXCLUDED.expiry_date,
			extracted_fields = EXCLUDED.extracted_fields,
			confirmed_fields = EXCLUDED.confirmed_fields,
			updated_at = EXCLUDED.updated_at`,
		p.VerificationID, p.DocumentFrontRef, p.DocumentBackRef, p.LivenessImageRef,
		p.LivenessVideoRef, pq.Array(frames), nullString(p.FullName), nullString(p.DateOfBirth),
		nullString(p.IDNumber), nullString(p.Address), nullString(p.ExpiryDate),
		extracted, pq.Array(confirmed), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindIdentity(ctx context.Context, verificationID uuid.UUID) (*models.ExtractedIdentity, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT verification_id, document_front_ref, document_back_ref, liveness_image_ref,
		       liveness_video_ref, liveness_frame_refs, full_name, date_of_birth, id_number,
		       address, expiry_date, extracted_fields, confirmed_fields, updated_at
		FROM extracted_identities WHERE verification_id = $1`, verificationID)

	var (
		p                                        models.ExtractedIdentity
		frames, confirmed                        pq.StringArray
		fullName, dob, idNumber, address, expiry sql.NullString
		extracted                                []byte
	)
	err := row.Scan(&p.VerificationID, &p.DocumentFrontRef, &p.DocumentBackRef, &p.LivenessImageRef,
		&p.LivenessVideoRef, &frames, &fullName, &dob, &idNumber, &address, &expiry,
		&extracted, &confirmed, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity for %s: %w", verificationID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}

	p.LivenessFrameRefs = []string(frames)
	p.FullName = stringPtr(fullName)
	p.DateOfBirth = stringPtr(dob)
	p.IDNumber = stringPtr(idNumber)
	p.Address = stringPtr(address)
	p.ExpiryDate = stringPtr(expiry)
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &p.ExtractedFields); err != nil {
			return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
		}
	}
	p.ConfirmedFields = make(map[models.Field]bool, len(confirmed))
	for _, f := range confirmed {
		p.ConfirmedFields[models.Field(f)] = true
	}
	return &p, nil
}

// CoalesceIdentity writes OCR values without clearing existing values or
// touching confirmed fields. The guard runs in SQL so a confirmation that
// lands between read and write still wins.
func (s *PostgresStore) CoalesceIdentity(ctx context.Context, verificationID uuid.UUID, in models.IdentityFields, now time.Time) error {
	extra, err := json.Marshal(nonNilMap(in.Extra))
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE extracted_identities SET
			full_name = CASE WHEN 'full_name' = ANY(confirmed_fields) THEN full_name
				ELSE COALESCE(NULLIF($2, ''), full_name) END,
			date_of_birth = CASE WHEN 'date_of_birth' = ANY(confirmed_fields) THEN date_of_birth
				ELSE COALESCE(NULLIF($3, ''), date_of_birth) END,
			id_number = CASE WHEN 'id_number' = ANY(confirmed_fields) THEN id_number
				ELSE COALESCE(NULLIF($4, ''), id_number) END,
			address = CASE WHEN 'address' = ANY(confirmed_fields) THEN address
				ELSE COALESCE(NULLIF($5, ''), address) END,
			expiry_date = CASE WHEN 'expiry_date' = ANY(confirmed_fields) THEN expiry_date
				ELSE COALESCE(NULLIF($6, ''), expiry_date) END,
			extracted_fields = extracted_fields || $7::jsonb,
			updated_at = $8
		WHERE verification_id = $1`,
		verificationID, in.FullName, in.DateOfBirth, in.IDNumber, in.Address, in.ExpiryDate,
		extra, now,
	)
	if err != nil {
		return fmt.Errorf("coalesce identity: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

// AddLivenessFrame records a generated liveness frame once.
func (s *PostgresStore) AddLivenessFrame(ctx context.Context, verificationID uuid.UUID, frameRef string, now time.Time) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE extracted_identities SET
			liveness_frame_refs = CASE WHEN $2 = ANY(liveness_frame_refs) THEN liveness_frame_refs
				ELSE array_append(liveness_frame_refs, $2) END,
			updated_at = $3
		WHERE verification_id = $1`,
		verificationID, frameRef, now,
	)
	if err != nil {
		return fmt.Errorf("add liveness frame: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func (s *PostgresStore) UpsertDecision(ctx context.Context, d *models.DecisionResult) error {
	raw, err := json.Marshal(nonNilAnyMap(d.RawResponses))
	if err != nil {
		return fmt.Errorf("marshal raw responses: %w", err)
	}
	checks, err := json.Marshal(d.Checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}
	signals, err := json.Marshal(nonNilAnyMap(d.RiskSignals.Signals))
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	flags := make([]string, len(d.RiskSignals.Flags))
	for i, f := range d.RiskSignals.Flags {
		flags[i] = string(f)
	}

	_, err = tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO decision_results (
			verification_id, provider, raw_responses, checks, verified, flags, signals,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (verification_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			raw_responses = EXCLUDED.raw_responses,
			checks = EXCLUDED.checks,
			verified = EXCLUDED.verified,
			flags = EXCLUDED.flags,
			signals = EXCLUDED.signals,
			updated_at = EXCLUDED.updated_at`,
		d.VerificationID, d.Provider, raw, checks, d.RiskSignals.Verified,
		pq.Array(flags), signals, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindDecision(ctx context.Context, verificationID uuid.UUID) (*models.DecisionResult, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT verification_id, provider, raw_responses, checks, verified, flags, signals,
		       created_at, updated_at
		FROM decision_results WHERE verification_id = $1`, verificationID)

	var (
		d                    models.DecisionResult
		raw, checks, signals []byte
		flags                pq.StringArray
	)
	err := row.Scan(&d.VerificationID, &d.Provider, &raw, &checks, &d.RiskSignals.Verified,
		&flags, &signals, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("decision for %s: %w", verificationID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find decision: %w", err)
	}
	if err := json.Unmarshal(raw, &d.RawResponses); err != nil {
		return nil, fmt.Errorf("unmarshal raw responses: %w", err)
	}
	if err := json.Unmarshal(checks, &d.Checks); err != nil {
		return nil, fmt.Errorf("unmarshal checks: %w", err)
	}
	if err := json.Unmarshal(signals, &d.RiskSignals.Signals); err != nil {
		return nil, fmt.Errorf("unmarshal signals: %w", err)
	}
	d.RiskSignals.Flags = make([]models.Flag, len(flags))
	for i, f := range flags {
		d.RiskSignals.Flags[i] = models.Flag(f)
	}
	return &d, nil
}

func expectOneRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullRisk(v *models.RiskLevel) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
