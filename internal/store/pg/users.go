package pg

import (
	"context"
	"database/sql"
	"errors"

	"cardiavue.org/internal/auth"
)

const principalColumns = `username, email, full_name, role, password_hash, is_active, created_at, updated_at`

func (s *Store) FindPrincipal(ctx context.Context, username string) (auth.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from users where username = $1`, username)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return p, nil
}

func (s *Store) CreateUser(ctx context.Context, p auth.Principal) (auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (username, email, full_name, role, password_hash, is_active)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, p.Username, nullIfEmpty(p.Email), nullIfEmpty(p.FullName), string(p.Role), p.PasswordHash, p.Active)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Principal{}, auth.ErrConflict
		}
		return auth.Principal{}, err
	}
	return p, nil
}

func (s *Store) SetActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set is_active = $2, updated_at = now() where username = $1`, username, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.Principal, error) {
	rows, err := s.db.QueryContext(ctx, `select `+principalColumns+` from users order by username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, p)
	}
	return users, rows.Err()
}

func scanPrincipal(row rowScanner) (auth.Principal, error) {
	var (
		p        auth.Principal
		role     string
		email    sql.NullString
		fullName sql.NullString
	)
	if err := row.Scan(&p.Username, &email, &fullName, &role, &p.PasswordHash, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Principal{}, err
	}
	// Unknown roles are kept verbatim so the policy can fail closed on them.
	p.Role = auth.Role(role)
	p.Email = email.String
	p.FullName = fullName.String
	return p, nil
}
