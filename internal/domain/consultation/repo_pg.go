package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teleclinic/consult/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Consultation Repository ===========

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) Repository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const consultationCols = `id, owner_id, title, messages, metadata, created_at, updated_at`

func (r *consultationRepoPG) scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var messages, metadata []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &messages, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	c.Messages = decodeMessages(messages, now)
	c.Metadata = decodeMetadata(metadata, now)
	return &c, nil
}

func (r *consultationRepoPG) Create(ctx context.Context, ownerID string) (*Consultation, error) {
	now := time.Now()
	c := &Consultation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     DefaultTitle,
		Messages:  []Message{},
		Metadata:  defaultMetadata(now),
		CreatedAt: now,
		UpdatedAt: now,
	}

	messages, err := encodeMessages(c.Messages)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO consultation (id, owner_id, title, messages, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		c.ID, c.OwnerID, c.Title, messages, metadata, now)
	if err != nil {
		return nil, fmt.Errorf("insert consultation: %w", err)
	}
	return c, nil
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := r.scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (r *consultationRepoPG) ListByOwner(ctx context.Context, ownerID string) ([]*Consultation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consultationCols+` FROM consultation WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := r.scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *consultationRepoPG) AppendMessage(ctx context.Context, id uuid.UUID, msg Message, newTitle *string) error {
	encoded, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	bump, err := json.Marshal(map[string]string{"lastActionDate": encodeTime(msg.Timestamp)})
	if err != nil {
		return fmt.Errorf("encode action date: %w", err)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation
		SET messages = COALESCE(messages, '[]'::jsonb) || $2::jsonb,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb,
		    title = COALESCE($4, title),
		    updated_at = NOW()
		WHERE id = $1`,
		id, encoded, bump, newTitle)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *consultationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM consultation WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *consultationRepoPG) DeleteBatch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	// One statement so the whole batch commits or none of it does.
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM consultation WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) PatchMetadata(ctx context.Context, id uuid.UUID, patch MetadataPatch) error {
	if db.TxFromContext(ctx) != nil {
		return r.patchMetadata(ctx, id, patch, false)
	}
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		return r.patchMetadata(ctx, id, patch, false)
	})
}

func (r *consultationRepoPG) PatchMetadataBatch(ctx context.Context, ids []uuid.UUID, patch MetadataPatch) error {
	run := func(ctx context.Context) error {
		for _, id := range ids {
			// Missing rows are no-ops so a stale id cannot poison the batch.
			if err := r.patchMetadata(ctx, id, patch, true); err != nil {
				return err
			}
		}
		return nil
	}
	if db.TxFromContext(ctx) != nil {
		return run(ctx)
	}
	return db.RunInTx(ctx, r.pool, run)
}

// patchMetadata is a locked read-modify-write so concurrent patches against
// the same document never lose fields. Callers provide the transaction.
func (r *consultationRepoPG) patchMetadata(ctx context.Context, id uuid.UUID, patch MetadataPatch, skipMissing bool) error {
	var raw []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT metadata FROM consultation WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		if skipMissing {
			return nil
		}
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	now := time.Now()
	updated := applyPatch(decodeMetadata(raw, now), patch, now)
	encoded, err := encodeMetadata(updated)
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx,
		`UPDATE consultation SET metadata = $2, updated_at = NOW() WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) Search(ctx context.Context, ownerID string, filter SearchFilter) ([]*Consultation, error) {
	query := `SELECT ` + consultationCols + ` FROM consultation WHERE owner_id = $1`
	args := []interface{}{ownerID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND metadata->>'status' = $%d`, len(args))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		query += fmt.Sprintf(` AND metadata->>'priority' = $%d`, len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(` AND metadata->>'category' = $%d`, len(args))
	}
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		query += fmt.Sprintf(` AND metadata->'tags' ?| $%d`, len(args))
	}
	if filter.ActionAfter != nil {
		args = append(args, *filter.ActionAfter)
		query += fmt.Sprintf(` AND (metadata->>'lastActionDate')::timestamptz >= $%d`, len(args))
	}
	if filter.ActionBefore != nil {
		args = append(args, *filter.ActionBefore)
		query += fmt.Sprintf(` AND (metadata->>'lastActionDate')::timestamptz <= $%d`, len(args))
	}

	query += ` ORDER BY (metadata->>'lastActionDate')::timestamptz DESC NULLS LAST`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search consultations: %w", err)
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := r.scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// =========== SOAP Note Repository ===========

type soapNoteRepoPG struct{ pool *pgxpool.Pool }

func NewSOAPNoteRepoPG(pool *pgxpool.Pool) SOAPNoteRepository {
	return &soapNoteRepoPG{pool: pool}
}

func (r *soapNoteRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const soapCols = `id, consultation_id, patient_id, subjective, objective, assessment, plan, generated_at, used_fallback`

func (r *soapNoteRepoPG) scanNote(row pgx.Row) (*SOAPNote, error) {
	var n SOAPNote
	var plan []byte
	err := row.Scan(&n.ID, &n.ConsultationID, &n.PatientID, &n.Subjective, &n.Objective,
		&n.Assessment, &plan, &n.GeneratedAt, &n.UsedFallback)
	if err != nil {
		return nil, err
	}
	if len(plan) > 0 {
		_ = json.Unmarshal(plan, &n.Plan)
	}
	return &n, nil
}

func (r *soapNoteRepoPG) Create(ctx context.Context, note *SOAPNote) error {
	note.ID = uuid.New()
	if note.GeneratedAt.IsZero() {
		note.GeneratedAt = time.Now()
	}
	plan, err := json.Marshal(note.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO soap_note (id, consultation_id, patient_id, subjective, objective, assessment, plan, generated_at, used_fallback)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		note.ID, note.ConsultationID, note.PatientID, note.Subjective, note.Objective,
		note.Assessment, plan, note.GeneratedAt, note.UsedFallback)
	return err
}

func (r *soapNoteRepoPG) LatestByConsultation(ctx context.Context, consultationID uuid.UUID) (*SOAPNote, error) {
	n, err := r.scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+soapCols+` FROM soap_note WHERE consultation_id = $1 ORDER BY generated_at DESC LIMIT 1`,
		consultationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("soap note for %s: %w", consultationID, ErrNotFound)
	}
	return n, err
}

// =========== Referral Repository ===========

type referralRepoPG struct{ pool *pgxpool.Pool }

func NewReferralRepoPG(pool *pgxpool.Pool) ReferralRepository {
	return &referralRepoPG{pool: pool}
}

func (r *referralRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const referralCols = `id, consultation_id, patient_id, referral_to, urgency, reason, symptoms, clinical_summary, status, created_at, used_fallback`

func (r *referralRepoPG) scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	var symptoms []byte
	err := row.Scan(&ref.ID, &ref.ConsultationID, &ref.PatientID, &ref.ReferralTo, &ref.Urgency,
		&ref.Reason, &symptoms, &ref.ClinicalSummary, &ref.Status, &ref.CreatedAt, &ref.UsedFallback)
	if err != nil {
		return nil, err
	}
	if len(symptoms) > 0 {
		_ = json.Unmarshal(symptoms, &ref.Symptoms)
	}
	return &ref, nil
}

func (r *referralRepoPG) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}
	symptoms, err := json.Marshal(ref.Symptoms)
	if err != nil {
		return fmt.Errorf("encode symptoms: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO referral (id, consultation_id, patient_id, referral_to, urgency, reason, symptoms, clinical_summary, status, created_at, used_fallback)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ref.ID, ref.ConsultationID, ref.PatientID, ref.ReferralTo, ref.Urgency,
		ref.Reason, symptoms, ref.ClinicalSummary, ref.Status, ref.CreatedAt, ref.UsedFallback)
	return err
}

func (r *referralRepoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Referral, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+referralCols+` FROM referral WHERE consultation_id = $1 ORDER BY created_at DESC`,
		consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := r.scanReferral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}

// =========== Follow-up Repository ===========

type followUpRepoPG struct{ pool *pgxpool.Pool }

func NewFollowUpRepoPG(pool *pgxpool.Pool) FollowUpRepository {
	return &followUpRepoPG{pool: pool}
}

func (r *followUpRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const followUpCols = `id, consultation_id, patient_id, scheduled_date, type, reason, status, notes, created_at`

func (r *followUpRepoPG) scanFollowUp(row pgx.Row) (*FollowUp, error) {
	var f FollowUp
	err := row.Scan(&f.ID, &f.ConsultationID, &f.PatientID, &f.ScheduledDate, &f.Type,
		&f.Reason, &f.Status, &f.Notes, &f.CreatedAt)
	return &f, err
}

func (r *followUpRepoPG) Create(ctx context.Context, fu *FollowUp) error {
	fu.ID = uuid.New()
	if fu.CreatedAt.IsZero() {
		fu.CreatedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO follow_up (id, consultation_id, patient_id, scheduled_date, type, reason, status, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		fu.ID, fu.ConsultationID, fu.PatientID, fu.ScheduledDate, fu.Type,
		fu.Reason, fu.Status, fu.Notes, fu.CreatedAt)
	return err
}

func (r *followUpRepoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*FollowUp, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+followUpCols+` FROM follow_up WHERE consultation_id = $1 ORDER BY created_at DESC`,
		consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FollowUp
	for rows.Next() {
		f, err := r.scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
