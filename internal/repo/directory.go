package repo

import (
	"context"
	"database/sql"
	"strings"

	"pfmt/internal/domain"
)

func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,email,role,active,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role, active=excluded.active`,
		u.ID, u.Name, nullable(u.Email), u.Role, boolInt(u.Active), now)
	return err
}

func (r Repo) UpsertVendor(ctx context.Context, tx *sql.Tx, v domain.Vendor, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO vendors(id,name,category,active,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category, active=excluded.active`,
		v.ID, v.Name, nullable(v.Category), boolInt(v.Active), now)
	return err
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, q queryer, id string) (domain.User, error) {
	var u domain.User
	var active int
	err := q.QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),role,active FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &active)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Active = active != 0
	return u, err
}

// ListActiveUsers returns active users holding one of roles, or every
// active user when roles is empty.
func (r Repo) ListActiveUsers(ctx context.Context, roles []string) ([]domain.User, error) {
	query := `SELECT id,name,COALESCE(email,''),role,active FROM users WHERE active=1`
	var args []any
	if len(roles) > 0 {
		query += ` AND role IN (?` + strings.Repeat(",?", len(roles)-1) + `)`
		for _, role := range roles {
			args = append(args, role)
		}
	}
	query += ` ORDER BY name, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var active int
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &active); err != nil {
			return nil, err
		}
		u.Active = active != 0
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) ListActiveVendors(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(category,''),active FROM vendors WHERE active=1 ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vendor
	for rows.Next() {
		var v domain.Vendor
		var active int
		if err := rows.Scan(&v.ID, &v.Name, &v.Category, &active); err != nil {
			return nil, err
		}
		v.Active = active != 0
		res = append(res, v)
	}
	return res, rows.Err()
}

// VendorExists reports whether id names an active vendor.
func (r Repo) VendorExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM vendors WHERE id=? AND active=1`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
