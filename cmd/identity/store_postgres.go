package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller. Table identifiers are schema-qualified and
// quoted. Group assignment is a single conditional UPDATE, so group existence
// and the active check are evaluated atomically with the write.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users and user_groups tables
// (default "daters").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "daters"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, password_hash, active, group_id, created_at, updated_at`

func (s *PostgresStore) users() string  { return pgIdent(s.schema, "users") }
func (s *PostgresStore) groups() string { return pgIdent(s.schema, "user_groups") }

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (UserRecord, error) {
	const op = "identity.CreateUser"
	if in.ID == "" || in.Email == "" || in.PasswordHash == "" {
		return UserRecord{}, invalid(op, "id, email and password hash are required")
	}
	now := orNow(in.Now)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users()+` (id, email, password_hash, active, created_at, updated_at)
		 VALUES ($1, $2, $3, false, $4, $4)
		 RETURNING `+userColumns,
		in.ID, in.Email, in.PasswordHash, now,
	)
	rec, err := scanUser(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return UserRecord{}, ConflictError{Op: op, Field: field}
		}
		return UserRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) ActivateUser(ctx context.Context, userID string, now time.Time) (UserRecord, error) {
	const op = "identity.ActivateUser"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET active = true, updated_at = $2
		  WHERE id = $1 AND NOT active
		RETURNING `+userColumns,
		userID, orNow(now),
	)
	rec, err := scanUser(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, err
	}

	exists, err := s.userExists(ctx, userID)
	if err != nil {
		return UserRecord{}, err
	}
	if exists {
		return UserRecord{}, OpError{Op: op, Kind: ErrConflict, Msg: "already active"}
	}
	return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string, now time.Time) (UserRecord, error) {
	const op = "identity.DeactivateUser"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET active = false, group_id = NULL, updated_at = $2
		  WHERE id = $1
		RETURNING `+userColumns,
		userID, orNow(now),
	)
	rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	return rec, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`, userID)
	rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return rec, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE email = $1`, email)
	rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return rec, err
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if hash == "" {
		return invalid(op, "empty password hash")
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, orNow(now),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.users()+` WHERE id = $1`, userID)
	return err
}

func (s *PostgresStore) CreateGroup(ctx context.Context, now time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.groups()+` (created_at) VALUES ($1) RETURNING id`,
		orNow(now),
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) GroupExists(ctx context.Context, groupID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.groups()+` WHERE id = $1)`,
		groupID,
	).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) GroupByMemberEmail(ctx context.Context, email string) (int64, error) {
	const op = "identity.GroupByMemberEmail"

	var (
		active  bool
		groupID *int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT active, group_id FROM `+s.users()+` WHERE email = $1`,
		email,
	).Scan(&active, &groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return 0, err
	}
	if !active || groupID == nil {
		return 0, NotFoundError{Op: op, Resource: "group"}
	}
	return *groupID, nil
}

func (s *PostgresStore) SetUserGroup(ctx context.Context, userID string, groupID int64, now time.Time) (UserRecord, error) {
	const op = "identity.SetUserGroup"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+` AS u
		    SET group_id = $2, updated_at = $3
		  WHERE u.id = $1
		    AND u.active
		    AND EXISTS (SELECT 1 FROM `+s.groups()+` AS g WHERE g.id = $2)
		RETURNING `+userColumns,
		userID, groupID, orNow(now),
	)
	rec, err := scanUser(row)
	switch {
	case err == nil:
		return rec, nil
	case pgIsForeignKeyViolation(err):
		// Group deleted between the EXISTS check and the write.
		return UserRecord{}, NotFoundError{Op: op, Resource: "group"}
	case !errors.Is(err, pgx.ErrNoRows):
		return UserRecord{}, err
	}

	// Nothing updated: work out which precondition failed.
	var active bool
	err = s.pool.QueryRow(ctx, `SELECT active FROM `+s.users()+` WHERE id = $1`, userID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return UserRecord{}, err
	}
	exists, err := s.GroupExists(ctx, groupID)
	if err != nil {
		return UserRecord{}, err
	}
	if !exists {
		return UserRecord{}, NotFoundError{Op: op, Resource: "group"}
	}
	if !active {
		return UserRecord{}, OpError{Op: op, Kind: ErrNotActive, Msg: "user not active"}
	}
	return UserRecord{}, OpError{Op: op, Kind: ErrConflict, Msg: "concurrent update"}
}

func (s *PostgresStore) ClearUserGroup(ctx context.Context, userID string, now time.Time) (UserRecord, error) {
	const op = "identity.ClearUserGroup"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+` SET group_id = NULL, updated_at = $2 WHERE id = $1 RETURNING `+userColumns,
		userID, orNow(now),
	)
	rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	return rec, err
}

func (s *PostgresStore) userExists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.users()+` WHERE id = $1)`,
		userID,
	).Scan(&ok)
	return ok, err
}

func scanUser(row pgx.Row) (UserRecord, error) {
	var rec UserRecord
	err := row.Scan(&rec.ID, &rec.Email, &rec.PasswordHash, &rec.Active, &rec.GroupID, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// ---- helpers ----

// pgIdent quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// pgClassifyUniqueViolation maps a unique_violation to a logical field name
// using the constraint names from the migrations.
func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	switch c := strings.ToLower(pgErr.ConstraintName); {
	case c == "uq_users_email" || strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
