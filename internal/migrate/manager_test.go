package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/records"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	migs, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations: %v", err)
	}
	if len(migs) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migs))
	}
	for i, m := range migs {
		if m.Version != int64(i+1) {
			t.Fatalf("migration %d has version %d", i, m.Version)
		}
		if m.Applied {
			t.Fatalf("migration %d reported applied without a database", m.Version)
		}
	}
	if !strings.HasSuffix(migs[0].Source, "00001_users.sql") {
		t.Fatalf("unexpected first migration %s", migs[0].Source)
	}
}

func TestSeedRunsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("001_demo").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("insert into schema_seeds").WithArgs("001_demo").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("001_demo").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	m := NewManager(db)
	calls := 0
	fn := func(context.Context) error { calls++; return nil }

	ran, err := m.Seed(context.Background(), "001_demo", fn)
	if err != nil || !ran {
		t.Fatalf("first Seed: ran=%v err=%v", ran, err)
	}
	ran, err = m.Seed(context.Background(), "001_demo", fn)
	if err != nil || ran {
		t.Fatalf("second Seed: ran=%v err=%v", ran, err)
	}
	if calls != 1 {
		t.Fatalf("seed body ran %d times", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSeedFailureIsNotRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists seeds_custom").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("broken").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	m := NewManager(db, WithSeedsTable("seeds_custom"))
	boom := errors.New("boom")
	if _, err := m.Seed(context.Background(), "broken", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped seed error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSeedDemoInMemory(t *testing.T) {
	ctx := context.Background()
	users := auth.NewMemoryStore()
	recs := records.NewInMemory()
	hasher := auth.NewHasher(bcrypt.MinCost)

	if err := SeedUsers(ctx, users, hasher); err != nil {
		t.Fatalf("SeedUsers: %v", err)
	}
	// A second pass tolerates existing accounts.
	if err := SeedUsers(ctx, users, hasher); err != nil {
		t.Fatalf("SeedUsers again: %v", err)
	}
	if err := SeedRecords(ctx, recs); err != nil {
		t.Fatalf("SeedRecords: %v", err)
	}

	all, err := users.ListUsers(ctx)
	if err != nil || len(all) != len(DemoUsers) {
		t.Fatalf("ListUsers: %d users, err=%v", len(all), err)
	}
	admin, err := users.FindPrincipal(ctx, "admin")
	if err != nil || admin.Role != auth.RoleAdmin || !hasher.Verify("admin123", admin.PasswordHash) {
		t.Fatalf("unexpected admin %+v err=%v", admin, err)
	}

	clinics, _ := recs.ListClinics(ctx, records.Page{})
	patients, _ := recs.ListPatients(ctx, records.Page{})
	txs, _ := recs.ListTransmissions(ctx, records.TransmissionFilter{})
	if len(clinics) != 2 || len(patients) != 3 || len(txs) != demoTransmissions {
		t.Fatalf("unexpected counts: clinics=%d patients=%d transmissions=%d", len(clinics), len(patients), len(txs))
	}
	if patients[0].DateOfBirth == nil || patients[0].DateOfBirth.String() != "1970-05-15" {
		t.Fatalf("unexpected birthday %v", patients[0].DateOfBirth)
	}

	stats, err := recs.DashboardStats(ctx, time.Now())
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if stats.TotalPatients != 3 || stats.TransmissionsToday != demoTransmissions || stats.CriticalAlerts != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
