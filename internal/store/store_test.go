package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/healthexport/internal/schema"
)

// fakeTx records COPY calls. Methods the store does not use panic through
// the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	batches    [][][]any
	copyErr    error
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	if tx.copyErr != nil {
		return 0, tx.copyErr
	}
	var rows [][]any
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	tx.batches = append(tx.batches, rows)
	return int64(len(rows)), src.Err()
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx    *fakeTx
	execs []string
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return db.tx, nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func records(n int) []schema.Record {
	out := make([]schema.Record, n)
	for i := range out {
		out[i] = schema.Record{
			DataType:   fmt.Sprintf("T%d", i),
			SourceName: "Watch",
			StartDate:  "2023-01-01",
			EndDate:    "2023-01-01",
		}
	}
	return out
}

func TestColumns(t *testing.T) {
	got := Columns()
	if got[0] != RunIDColumn {
		t.Errorf("first column = %q, want %q", got[0], RunIDColumn)
	}
	if !reflect.DeepEqual(got[1:], schema.Columns()) {
		t.Errorf("Columns()[1:] = %v, want schema columns", got[1:])
	}
}

func TestCreateTableSQL(t *testing.T) {
	s := New(&fakeDB{}, "health_records", 0)
	sql := s.CreateTableSQL()

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "health_records"`,
		"run_id uuid NOT NULL",
		`"data_type" text NOT NULL`,
		`"unit" text,`,
		`"end_date" text NOT NULL`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("DDL missing %q:\n%s", want, sql)
		}
	}
}

func TestEnsureTable(t *testing.T) {
	db := &fakeDB{}
	if err := New(db, "health_records", 0).EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable() error = %v", err)
	}
	if len(db.execs) != 1 {
		t.Errorf("executed %d statements, want 1", len(db.execs))
	}
}

func TestImport_Batches(t *testing.T) {
	tests := []struct {
		rows        int
		batchSize   int
		wantBatches int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 5, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_rows_by_%d", tt.rows, tt.batchSize), func(t *testing.T) {
			db := &fakeDB{tx: &fakeTx{}}
			s := New(db, "health_records", tt.batchSize)

			n, err := s.Import(context.Background(), uuid.New(), records(tt.rows))
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}
			if n != int64(tt.rows) {
				t.Errorf("copied %d rows, want %d", n, tt.rows)
			}
			if len(db.tx.batches) != tt.wantBatches {
				t.Errorf("got %d batches, want %d", len(db.tx.batches), tt.wantBatches)
			}
			if !db.tx.committed {
				t.Error("transaction not committed")
			}
		})
	}
}

func TestImport_RowValues(t *testing.T) {
	runID := uuid.New()
	rec := records(1)[0]
	rec.Unit = pgtype.Text{String: "count/min", Valid: true}

	db := &fakeDB{tx: &fakeTx{}}
	if _, err := New(db, "health_records", 0).Import(context.Background(), runID, []schema.Record{rec}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	row := db.tx.batches[0][0]
	if len(row) != len(Columns()) {
		t.Fatalf("row has %d values, want %d", len(row), len(Columns()))
	}
	if id := row[0].(pgtype.UUID); id.Bytes != runID || !id.Valid {
		t.Errorf("run_id = %v, want %v", id, runID)
	}
	if row[1] != "T0" {
		t.Errorf("data_type = %v", row[1])
	}
	if unit := row[2].(pgtype.Text); unit.String != "count/min" || !unit.Valid {
		t.Errorf("unit = %+v", unit)
	}
	if device := row[6].(pgtype.Text); device.Valid {
		t.Errorf("absent device should be NULL, got %+v", device)
	}
}

func TestImport_CopyFailureRollsBack(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{copyErr: errors.New("connection reset by peer")}}

	_, err := New(db, "health_records", 0).Import(context.Background(), uuid.New(), records(3))
	if err == nil {
		t.Fatal("Import() succeeded, want error")
	}
	if db.tx.committed || !db.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want rollback only", db.tx.committed, db.tx.rolledBack)
	}
}

func TestImport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db := &fakeDB{tx: &fakeTx{}}
	_, err := New(db, "health_records", 0).Import(ctx, uuid.New(), records(3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Import() error = %v, want context.Canceled", err)
	}
	if db.tx.committed {
		t.Error("cancelled import committed")
	}
}
