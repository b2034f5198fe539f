package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema holds the tables created by migrations/postgres.
const DefaultSchema = "orgkit"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries runs statements against either the pool or an open transaction.
type queries struct {
	q      querier
	schema string
}

func (q queries) t(name string) string { return q.schema + "." + name }

// Store provides organization, membership and usage persistence in Postgres.
type Store struct {
	queries
	pg *pgxpool.Pool
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = DefaultSchema
	}
	return &Store{queries: queries{q: pg, schema: s}, pg: pg}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// constraint maps integrity violations onto the package errors.
func constraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503":
		return fmt.Errorf("%w: referenced row does not exist (%s)", entitlements.ErrInvalidArgument, pgErr.ConstraintName)
	case "23505":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

const orgColumns = `id, external_id, name, slug, created_by, plan, trial_started_at, trial_ends_at, created_at`

func scanOrg(row pgx.Row) (*Organization, error) {
	var o Organization
	var plan string
	if err := row.Scan(&o.ID, &o.ExternalID, &o.Name, &o.Slug, &o.CreatedBy, &plan, &o.TrialStartedAt, &o.TrialEndsAt, &o.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	o.Plan = entitlements.PlanID(plan)
	return &o, nil
}

// CreateOrganization inserts o unless an organization with the same external id
// exists, in which case o is filled from the stored row and created is false.
func (s *Store) CreateOrganization(ctx context.Context, o *Organization) (created bool, err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err = s.q.QueryRow(ctx, `INSERT INTO `+s.t("organizations")+` (id, external_id, name, slug, created_by, plan, trial_started_at, trial_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING created_at`,
		o.ID, o.ExternalID, o.Name, o.Slug, o.CreatedBy, string(o.Plan), o.TrialStartedAt, o.TrialEndsAt,
	).Scan(&o.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	existing, err := s.OrganizationByExternalID(ctx, o.ExternalID)
	if err != nil {
		return false, err
	}
	*o = *existing
	return false, nil
}

func (s *Store) OrganizationByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return scanOrg(s.q.QueryRow(ctx, `SELECT `+orgColumns+` FROM `+s.t("organizations")+` WHERE id=$1`, id))
}

func (s *Store) OrganizationByExternalID(ctx context.Context, externalID string) (*Organization, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrNotFound
	}
	return scanOrg(s.q.QueryRow(ctx, `SELECT `+orgColumns+` FROM `+s.t("organizations")+` WHERE external_id=$1`, externalID))
}

// SetPlan records a billing outcome. Trial timestamps are kept for history.
func (s *Store) SetPlan(ctx context.Context, orgID uuid.UUID, plan entitlements.PlanID) error {
	tag, err := s.q.Exec(ctx, `UPDATE `+s.t("organizations")+` SET plan=$2, updated_at=NOW() WHERE id=$1`, orgID, string(plan))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// trialDeadlineSQL mirrors Evaluator.TrialDeadline; $2 is the trial duration in seconds.
const trialDeadlineSQL = `COALESCE(trial_ends_at, trial_started_at + make_interval(secs => $2))`

// ExpiredTrials returns up to limit pro_trial organizations whose deadline is at or before now.
func (s *Store) ExpiredTrials(ctx context.Context, now time.Time, trialDuration time.Duration, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `SELECT id FROM `+s.t("organizations")+`
		WHERE plan=$3 AND `+trialDeadlineSQL+` <= $1
		ORDER BY id LIMIT $4`,
		now, trialDuration.Seconds(), string(entitlements.PlanProTrial), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DowngradeExpiredTrial moves orgID to solo only if it is still an expired pro_trial.
func (s *Store) DowngradeExpiredTrial(ctx context.Context, orgID uuid.UUID, now time.Time, trialDuration time.Duration) (bool, error) {
	tag, err := s.q.Exec(ctx, `UPDATE `+s.t("organizations")+`
		SET plan=$4, updated_at=NOW()
		WHERE id=$3 AND plan=$5 AND `+trialDeadlineSQL+` <= $1`,
		now, trialDuration.Seconds(), orgID, string(entitlements.PlanSolo), string(entitlements.PlanProTrial))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertUser creates or refreshes a user by external id. The role is fixed at creation.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return s.q.QueryRow(ctx, `INSERT INTO `+s.t("users")+` (id, external_id, email, name, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET email=EXCLUDED.email, name=EXCLUDED.name, updated_at=NOW()
		RETURNING id, role`,
		u.ID, u.ExternalID, u.Email, u.Name, string(u.Role),
	).Scan(&u.ID, &u.Role)
}

func (s *Store) AddMembership(ctx context.Context, m Membership) error {
	_, err := s.q.Exec(ctx, `INSERT INTO `+s.t("memberships")+` (organization_id, external_user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, external_user_id) DO NOTHING`,
		m.OrganizationID, m.ExternalUserID, string(m.Role))
	return err
}

// RecordInvitation stores an invitation created at the identity provider.
func (s *Store) RecordInvitation(ctx context.Context, inv *Invitation) error {
	return s.insertInvitation(ctx, inv)
}

func (s *Store) AcceptInvitation(ctx context.Context, externalID string, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE `+s.t("invitations")+` SET status='accepted', accepted_at=$2 WHERE external_id=$1`, externalID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptPendingInvitation closes the pending invitations for email in orgID.
// Invitations created through the API carry no provider id, so acceptance
// falls back to the invited address.
func (s *Store) AcceptPendingInvitation(ctx context.Context, orgID uuid.UUID, email string, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE `+s.t("invitations")+`
		SET status='accepted', accepted_at=$3
		WHERE organization_id=$1 AND lower(email)=$2 AND status='pending'`,
		orgID, strings.ToLower(strings.TrimSpace(email)), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateClient(ctx context.Context, c *Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := s.q.QueryRow(ctx, `INSERT INTO `+s.t("clients")+` (id, organization_id, name, email)
		VALUES ($1, $2, $3, $4) RETURNING created_at`,
		c.ID, c.OrganizationID, c.Name, c.Email).Scan(&c.CreatedAt)
	return constraint(err)
}

const clientColumns = `id, organization_id, name, email, created_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ClientByEmail(ctx context.Context, orgID uuid.UUID, email string) (*Client, error) {
	c, err := scanClient(s.q.QueryRow(ctx, `SELECT `+clientColumns+` FROM `+s.t("clients")+`
		WHERE organization_id=$1 AND lower(email)=$2`, orgID, strings.ToLower(strings.TrimSpace(email))))
	return c, notFound(err)
}

func (s *Store) Clients(ctx context.Context, orgID uuid.UUID) ([]*Client, error) {
	rows, err := s.q.Query(ctx, `SELECT `+clientColumns+` FROM `+s.t("clients")+`
		WHERE organization_id=$1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ClientExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	var ok bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.t("clients")+` WHERE lower(email)=$1)`, email).Scan(&ok)
	return ok, err
}

// WithinOrgLock runs fn in a transaction holding an advisory lock for orgID,
// serializing every allocation for that organization.
func (s *Store) WithinOrgLock(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pg, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, orgID.String()); err != nil {
			return err
		}
		return fn(ctx, queries{q: tx, schema: s.schema})
	})
}

func (q queries) State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error) {
	var st entitlements.State
	var plan string
	err := q.q.QueryRow(ctx, `SELECT plan, trial_started_at, trial_ends_at FROM `+q.t("organizations")+` WHERE id=$1`, orgID).
		Scan(&plan, &st.TrialStartedAt, &st.TrialEndsAt)
	if err != nil {
		return entitlements.State{}, notFound(err)
	}
	st.Plan = entitlements.PlanID(plan)
	return st, nil
}

// Usage counts projects, non-admin members plus pending invitations, and stored bytes.
func (q queries) Usage(ctx context.Context, orgID uuid.UUID) (entitlements.UsageSnapshot, error) {
	var u entitlements.UsageSnapshot
	err := q.q.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM `+q.t("projects")+` WHERE organization_id=$1),
		(SELECT count(*) FROM `+q.t("memberships")+` WHERE organization_id=$1 AND role <> 'admin')
			+ (SELECT count(*) FROM `+q.t("invitations")+` WHERE organization_id=$1 AND status='pending'),
		(SELECT COALESCE(SUM(size_bytes), 0) FROM `+q.t("assets")+` WHERE organization_id=$1)`, orgID).
		Scan(&u.Projects, &u.TeamMembers, &u.StorageBytes)
	return u, err
}

func (q queries) HasClient(ctx context.Context, orgID, clientID uuid.UUID) (bool, error) {
	return q.owns(ctx, "clients", orgID, clientID)
}

func (q queries) HasProject(ctx context.Context, orgID, projectID uuid.UUID) (bool, error) {
	return q.owns(ctx, "projects", orgID, projectID)
}

func (q queries) owns(ctx context.Context, table string, orgID, id uuid.UUID) (bool, error) {
	var ok bool
	err := q.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+q.t(table)+` WHERE id=$1 AND organization_id=$2)`, id, orgID).Scan(&ok)
	return ok, err
}

func (q queries) InsertProject(ctx context.Context, p *Project) error {
	err := q.q.QueryRow(ctx, `INSERT INTO `+q.t("projects")+` (id, organization_id, title, client_id)
		VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.OrganizationID, p.Title, p.ClientID).Scan(&p.CreatedAt)
	return constraint(err)
}

func (q queries) InsertInvitation(ctx context.Context, inv *Invitation) error {
	return q.insertInvitation(ctx, inv)
}

func (q queries) insertInvitation(ctx context.Context, inv *Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = "pending"
	}
	var external *string
	if inv.ExternalID != "" {
		external = &inv.ExternalID
	}
	_, err := q.q.Exec(ctx, `INSERT INTO `+q.t("invitations")+` (id, organization_id, external_id, email, role, invited_by, status, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING`,
		inv.ID, inv.OrganizationID, external, inv.Email, string(inv.Role), inv.InvitedBy, inv.Status, inv.AcceptedAt)
	return constraint(err)
}

func (q queries) InsertAsset(ctx context.Context, a *Asset) error {
	err := q.q.QueryRow(ctx, `INSERT INTO `+q.t("assets")+` (id, organization_id, project_id, name, size_bytes)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		a.ID, a.OrganizationID, a.ProjectID, a.Name, a.SizeBytes).Scan(&a.CreatedAt)
	return constraint(err)
}
