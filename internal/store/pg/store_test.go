package pg

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestConsumeTokenSecondRedemption(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("update approval_tokens set consumed_at").
		WithArgs("tok", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select token, request_id.*from approval_tokens where token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"token", "request_id", "request_kind", "expires_at", "consumed_at", "created_at"}).
			AddRow("tok", "req-1", "role_escalation", now.Add(time.Hour), now, now))
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), func(tx store.Tx) error {
		return tx.ConsumeToken(context.Background(), "tok", now)
	})
	if !errors.Is(err, domain.ErrTokenAlreadyConsumed) {
		t.Fatalf("expected ErrTokenAlreadyConsumed, got %v", err)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("update approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from approval_tokens").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), func(tx store.Tx) error {
		return tx.ConsumeToken(context.Background(), "nope", now)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUniqueViolationsMapToDomainErrors(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{"role_requests_one_pending", domain.ErrRequestAlreadyPending},
		{"submissions_idempotency_key", domain.ErrDuplicateSubmission},
		{"identity_codes_personal_key", domain.ErrDuplicateOwnerBinding},
		{"identity_codes_pkey", store.ErrCodeTaken},
		{"users_email_key", domain.ErrEmailTaken},
		{"something_else", domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		err := mapError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: tc.constraint})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.constraint, tc.want, err)
		}
	}
	if err := mapError(&pgconn.PgError{Code: pgErrForeignKeyViolation}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for fk violation, got %v", err)
	}
}

func TestInsertRequestPendingConflict(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("insert into role_requests").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "role_requests_one_pending"})
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), func(tx store.Tx) error {
		return tx.InsertRequest(context.Background(), domain.Request{
			ID: "r1", Kind: domain.RequestTransfer, UserID: "u1", RequestedStationID: "st-2",
			Status: domain.RequestPending, CreatedAt: now,
		})
	})
	if !errors.Is(err, domain.ErrRequestAlreadyPending) {
		t.Fatalf("expected ErrRequestAlreadyPending, got %v", err)
	}
}

func TestUserForUpdateLocksRow(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`from users where id=\$1 for update`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "rank", "role", "station_id", "created_at", "updated_at"}).
			AddRow("u1", "u1@example.com", "hash", "User One", "SSG", "station_commander", "st-1", now, now))
	mock.ExpectExec("update users set role").
		WithArgs("u1", "recruiter", "st-2", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Atomically(context.Background(), func(tx store.Tx) error {
		u, err := tx.UserForUpdate(context.Background(), "u1")
		if err != nil {
			return err
		}
		if u.Role != domain.RoleCommander || u.StationID != "st-1" {
			t.Fatalf("unexpected user: %+v", u)
		}
		return tx.SetUserAccess(context.Background(), u.ID, domain.RoleRecruiter, "st-2", now)
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
}

func TestCloseRequestNotPending(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update role_requests").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from role_requests where id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "user_id", "current_station_id", "requested_station_id", "reason", "status", "reviewed_by", "reviewed_at", "review_notes", "created_at"}).
			AddRow("r1", "station_transfer", "u1", "st-1", "st-2", "move", "approved", "boss", now, "", now))
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), func(tx store.Tx) error {
		return tx.CloseRequest(context.Background(), domain.Request{ID: "r1", Status: domain.RequestDenied, ReviewedAt: &now})
	})
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestListSubmissionsScope(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`owner_id in \(\$2,\$3\)`).
		WithArgs(100, "a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.Atomically(context.Background(), func(tx store.Tx) error {
		_, err := tx.ListSubmissions(context.Background(), store.Scope{OwnerIDs: []string{"a", "b"}}, 0)
		return err
	})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
}

func TestScopeClause(t *testing.T) {
	if where, args := scopeClause("owner_id", store.Scope{All: true}, 1); where != "true" || args != nil {
		t.Fatalf("all scope: %q %v", where, args)
	}
	if where, _ := scopeClause("owner_id", store.Scope{}, 1); where != "false" {
		t.Fatalf("empty scope: %q", where)
	}
	where, args := scopeClause("owner_id", store.Scope{OwnerIDs: []string{"x", "y"}}, 3)
	if where != "owner_id in ($3,$4)" || len(args) != 2 {
		t.Fatalf("owner scope: %q %v", where, args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	ups, err := fs.Glob(Migrations(), "*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	downs, _ := fs.Glob(Migrations(), "*.down.sql")
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Fatalf("expected paired migrations, got %v / %v", ups, downs)
	}
}
