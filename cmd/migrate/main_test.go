package main

import (
	"bytes"
	"database/sql"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/saviobatista/mavrelay/internal/db/migrations"
)

func expectInitialize(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectApplied(mock sqlmock.Sqlmock, names ...string) {
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(rows)
}

func expectApply(mock sqlmock.Sqlmock, migration *migrations.Migration) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(migration.UpSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO migrations \(name\) VALUES \(\$1\)`).
		WithArgs(migration.Name).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

// TestRunWithMock tests the migration logic with mocked database
func TestRunWithMock(t *testing.T) {
	all := migrations.All()

	tests := []struct {
		name       string
		rollback   bool
		status     bool
		setupMock  func(sqlmock.Sqlmock)
		wantError  string
		wantOutput string
	}{
		{
			name: "apply all migrations",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectInitialize(mock)
				expectApplied(mock)
				expectApply(mock, all[0])
				expectApply(mock, all[1])
			},
		},
		{
			name: "apply pending migration only",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectInitialize(mock)
				expectApplied(mock, all[0].Name)
				expectApply(mock, all[1])
			},
		},
		{
			name: "migration failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectInitialize(mock)
				expectApplied(mock)
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(all[0].UpSQL)).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			wantError: "failed to apply migrations",
		},
		{
			name:     "rollback last migration",
			rollback: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectApplied(mock, all[0].Name, all[1].Name)
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(all[1].DownSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`DELETE FROM migrations WHERE name = \$1`).
					WithArgs(all[1].Name).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:     "rollback with nothing applied",
			rollback: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectApplied(mock)
			},
			wantError: "no migrations to rollback",
		},
		{
			name:   "status with pending migrations",
			status: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectInitialize(mock)
				expectApplied(mock, all[0].Name)
			},
			wantOutput: "1 pending migration(s):\n  002_retention_policies\n",
		},
		{
			name:   "status up to date",
			status: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				expectInitialize(mock)
				expectApplied(mock, all[0].Name, all[1].Name)
			},
			wantOutput: "Schema is up to date\n",
		},
		{
			name: "ping failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing().WillReturnError(sql.ErrConnDone)
			},
			wantError: "failed to ping database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()

			tt.setupMock(mock)

			var out bytes.Buffer
			err = run(db, tt.rollback, tt.status, &out)

			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Errorf("Expected error containing %q, got %v", tt.wantError, err)
				}
			} else if err != nil {
				t.Errorf("run() failed: %v", err)
			}

			if tt.wantOutput != "" && out.String() != tt.wantOutput {
				t.Errorf("Output = %q, want %q", out.String(), tt.wantOutput)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unfulfilled expectations: %v", err)
			}
		})
	}
}
