package pg

import (
	"context"
	"time"

	"recruitd.org/internal/domain"
)

const userColumns = `id, email, password_hash, full_name, rank, role, coalesce(station_id, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var u domain.User
	err := r.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Rank, &u.Role, &u.StationID, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (t *tx) CreateUser(ctx context.Context, u domain.User) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into users(id, email, password_hash, full_name, rank, role, station_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.Email, u.PasswordHash, u.FullName, u.Rank, u.Role, nullIfEmpty(u.StationID), u.CreatedAt, u.UpdatedAt)
	return mapError(err)
}

func (t *tx) User(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
	return u, mapError(err)
}

func (t *tx) UserForUpdate(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1 for update`, id))
	return u, mapError(err)
}

func (t *tx) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email)=lower($1)`, email))
	return u, mapError(err)
}

func (t *tx) UsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return t.queryUsers(ctx, `select `+userColumns+` from users where role=$1 order by id`, role)
}

func (t *tx) UsersByStation(ctx context.Context, stationID string) ([]domain.User, error) {
	return t.queryUsers(ctx, `select `+userColumns+` from users where station_id=$1 order by id`, stationID)
}

func (t *tx) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *tx) SetUserAccess(ctx context.Context, id string, role domain.Role, stationID string, at time.Time) error {
	return requireRow(t.tx.ExecContext(ctx, `
		update users set role=$2, station_id=$3, updated_at=$4 where id=$1
	`, id, role, nullIfEmpty(stationID), at))
}

func (t *tx) UpsertStation(ctx context.Context, s domain.Station) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into stations(id, code, name, city, state)
		values ($1,$2,$3,$4,$5)
		on conflict (id) do update
		set code = excluded.code, name = excluded.name, city = excluded.city, state = excluded.state
	`, s.ID, s.Code, s.Name, s.City, s.State)
	return mapError(err)
}

func (t *tx) Station(ctx context.Context, id string) (domain.Station, error) {
	var s domain.Station
	err := t.tx.QueryRowContext(ctx, `select id, code, name, city, state from stations where id=$1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.City, &s.State)
	return s, mapError(err)
}

func (t *tx) ListStations(ctx context.Context) ([]domain.Station, error) {
	rows, err := t.tx.QueryContext(ctx, `select id, code, name, city, state from stations order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Station
	for rows.Next() {
		var s domain.Station
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.City, &s.State); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
