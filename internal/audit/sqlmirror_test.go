package audit

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSQLMirror_MirrorInsertsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mirror := &SQLMirror{db: db}

	record := Record{
		Timestamp: time.Now().UTC(),
		PrevHash:  "AAAA",
		Hash:      "BBBB",
		Event:     Event{Actor: "alice", Role: "admin", Action: "read", Resource: "/v1/open", Outcome: "allow"},
	}

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(record.Hash, record.PrevHash, record.Event.Actor, record.Event.Role,
			record.Event.Action, record.Event.Resource, record.Event.Outcome, record.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, mirror.Mirror(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMirror_MirrorPropagatesExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mirror := &SQLMirror{db: db}

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(context.DeadlineExceeded)

	err = mirror.Mirror(context.Background(), Record{})
	require.Error(t, err)
}
