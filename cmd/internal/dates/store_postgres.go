package dates

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

	"daters/cmd/identity"
)

// PostgresStore implements Store over PostgreSQL.
//
// Each statement carries its own membership guard
//
//	EXISTS (SELECT 1 FROM users WHERE id = $user AND group_id = $group AND active)
//
// so a user who leaves a group between group resolution and the write cannot
// touch that group's rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the dates and users tables (default
// "daters").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("dates: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("dates: invalid schema identifier")
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
		return nil, errors.New("dates: nil pool")
	}
	return st, nil
}

const dateColumns = `d.id, d.name, d.count, d.description, d.status, d.day, d.created_at, d.updated_at`

func (s *PostgresStore) dates() string { return pgIdent(s.schema, "dates") }

// memberGuard is a predicate over $user and $group placeholders.
func (s *PostgresStore) memberGuard(userArg, groupArg int) string {
	return fmt.Sprintf(`EXISTS (SELECT 1 FROM %s AS m WHERE m.id = $%d AND m.group_id = $%d AND m.active)`,
		pgIdent(s.schema, "users"), userArg, groupArg)
}

func (s *PostgresStore) Insert(ctx context.Context, userID string, groupID int64, d Date) error {
	const op = "dates.Insert"

	ct, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.dates()+` (id, group_id, name, count, description, status, day, created_at, updated_at)
		 SELECT $3::text, $2::bigint, $4::text, $5::bigint, $6::text, $7::text, $8::date, $9::timestamptz, $9::timestamptz
		  WHERE `+s.memberGuard(1, 2),
		userID, groupID,
		d.ID, d.Name, d.Count, d.Description.Text, string(d.Description.Status), d.Description.Day, d.CreatedAt,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return identity.OpError{Op: op, Kind: ErrGroupMembership, Msg: "group no longer exists"}
		}
		if pgIsUniqueViolation(err) {
			return identity.ConflictError{Op: op, Field: "id"}
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return identity.OpError{Op: op, Kind: ErrGroupMembership, Msg: "user is not a member of the group"}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string, groupID int64, dateID string) (Date, error) {
	const op = "dates.Get"

	row := s.pool.QueryRow(ctx,
		`SELECT `+dateColumns+` FROM `+s.dates()+` AS d
		  WHERE d.id = $3 AND d.group_id = $2 AND `+s.memberGuard(1, 2),
		userID, groupID, dateID,
	)
	d, err := scanDate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Date{}, s.diagnose(ctx, op, userID, groupID)
	}
	return d, err
}

func (s *PostgresStore) List(ctx context.Context, userID string, groupID int64) ([]Date, error) {
	const op = "dates.List"

	rows, err := s.pool.Query(ctx,
		`SELECT `+dateColumns+` FROM `+s.dates()+` AS d
		  WHERE d.group_id = $2 AND `+s.memberGuard(1, 2)+`
		  ORDER BY d.count DESC, d.created_at ASC, d.id ASC`,
		userID, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Date
	for rows.Next() {
		d, err := scanDate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) == 0 {
		// Empty group or failed guard; only the latter is an error.
		member, err := s.isMember(ctx, userID, groupID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, identity.OpError{Op: op, Kind: ErrGroupMembership, Msg: "user is not a member of the group"}
		}
		return []Date{}, nil
	}
	return out, nil
}

func (s *PostgresStore) AdjustCount(ctx context.Context, userID string, groupID int64, dateID string, delta int64) (Date, error) {
	const op = "dates.AdjustCount"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.dates()+` AS d
		    SET count = GREATEST(d.count + $4, 0), updated_at = $5
		  WHERE d.id = $3 AND d.group_id = $2 AND `+s.memberGuard(1, 2)+`
		RETURNING `+dateColumns,
		userID, groupID, dateID, delta, time.Now().UTC(),
	)
	d, err := scanDate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Date{}, s.diagnose(ctx, op, userID, groupID)
	}
	return d, err
}

func (s *PostgresStore) Modify(ctx context.Context, userID string, groupID int64, dateID string, fn func(*Date) error) (Date, error) {
	const op = "dates.Modify"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Date{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+dateColumns+` FROM `+s.dates()+` AS d
		  WHERE d.id = $3 AND d.group_id = $2 AND `+s.memberGuard(1, 2)+`
		  FOR UPDATE OF d`,
		userID, groupID, dateID,
	)
	d, err := scanDate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Date{}, s.diagnose(ctx, op, userID, groupID)
	}
	if err != nil {
		return Date{}, err
	}

	if err := fn(&d); err != nil {
		return Date{}, err
	}
	d.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE `+s.dates()+`
		    SET name = $2, count = $3, description = $4, status = $5, day = $6, updated_at = $7
		  WHERE id = $1`,
		d.ID, d.Name, d.Count, d.Description.Text, string(d.Description.Status), d.Description.Day, d.UpdatedAt,
	)
	if err != nil {
		return Date{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Date{}, err
	}
	return d, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, groupID int64, dateID string) error {
	const op = "dates.Delete"

	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.dates()+` AS d
		  WHERE d.id = $3 AND d.group_id = $2 AND `+s.memberGuard(1, 2),
		userID, groupID, dateID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.diagnose(ctx, op, userID, groupID)
	}
	return nil
}

// diagnose explains a guarded statement that matched no row.
func (s *PostgresStore) diagnose(ctx context.Context, op, userID string, groupID int64) error {
	member, err := s.isMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !member {
		return identity.OpError{Op: op, Kind: ErrGroupMembership, Msg: "user is not a member of the group"}
	}
	return notFound(op)
}

func (s *PostgresStore) isMember(ctx context.Context, userID string, groupID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT `+s.memberGuard(1, 2), userID, groupID).Scan(&ok)
	return ok, err
}

func scanDate(row pgx.Row) (Date, error) {
	var (
		d      Date
		status string
	)
	err := row.Scan(&d.ID, &d.Name, &d.Count, &d.Description.Text, &status, &d.Description.Day, &d.CreatedAt, &d.UpdatedAt)
	d.Description.Status = Status(status)
	return d, err
}

func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
