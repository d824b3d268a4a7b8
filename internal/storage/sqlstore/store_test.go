package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "PayChat/internal/errors"
	"PayChat/internal/ledger"
)

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func newMySQLStore(t *testing.T, ops []mockOperation) (*Store, *queueDriver) {
	t.Helper()
	db, drv := newMockDB(t, ops)
	t.Cleanup(func() { db.Close() })
	store, err := New(db, "mysql", WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, drv
}

func TestSQLStoreCreate(t *testing.T) {
	t.Parallel()

	store, drv := newMySQLStore(t, []mockOperation{
		execOp(insertAccountSQL, mockResult{rowsAffected: 1}, "carol", "pw", int64(100), int64(1700000000), int64(1700000000)),
	})
	defer drv.assertConsumed(t)

	acc, err := store.Create(context.Background(), "carol", "pw", 100)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if acc.Username != "carol" || acc.Balance != 100 {
		t.Fatalf("unexpected account: %+v", acc)
	}
}

func TestSQLStoreCreateDuplicate(t *testing.T) {
	t.Parallel()

	store, drv := newMySQLStore(t, []mockOperation{
		execErrOp(insertAccountSQL, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'alice' for key 'PRIMARY'"}),
	})
	defer drv.assertConsumed(t)

	_, err := store.Create(context.Background(), "alice", "pw", 100)
	if !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestSQLStoreFindNotFound(t *testing.T) {
	t.Parallel()

	store, drv := newMySQLStore(t, []mockOperation{
		queryOp(selectAccountSQL, mockRowsData{columns: []string{"username", "password", "balance", "created_at", "updated_at"}}),
	})
	defer drv.assertConsumed(t)

	if _, err := store.Find(context.Background(), "ghost"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSQLStoreAuthenticate(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"username", "password", "balance", "created_at", "updated_at"},
		values:  [][]driver.Value{{"alice", "pw-a", int64(100), int64(1), int64(1)}},
	}
	store, drv := newMySQLStore(t, []mockOperation{
		queryOp(selectAccountSQL, rows),
		queryOp(selectAccountSQL, rows),
	})
	defer drv.assertConsumed(t)

	acc, err := store.Authenticate(context.Background(), "alice", "pw-a")
	if err != nil || acc.Balance != 100 {
		t.Fatalf("authenticate failed: %+v %v", acc, err)
	}
	if _, err := store.Authenticate(context.Background(), "alice", "bad"); !errors.Is(err, ledger.ErrWrongCredential) {
		t.Fatalf("expected ErrWrongCredential, got %v", err)
	}
}

func TestSQLStoreUpdateNoRows(t *testing.T) {
	t.Parallel()

	store, drv := newMySQLStore(t, []mockOperation{
		execOp(updateAccountSQL, mockResult{rowsAffected: 1}),
		execOp(updateAccountSQL, mockResult{rowsAffected: 0}),
	})
	defer drv.assertConsumed(t)

	if err := store.Update(context.Background(), ledger.Account{Username: "bob", Password: "pw", Balance: 75}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	err := store.Update(context.Background(), ledger.Account{Username: "ghost", Password: "pw", Balance: 1})
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSQLStoreTransferLocksInNameOrder(t *testing.T) {
	t.Parallel()

	lock := lockBalanceSQL + " FOR UPDATE"
	// bob -> alice 仍然先锁 alice。
	store, drv := newMySQLStore(t, []mockOperation{
		beginOp(),
		queryOp(lock, balanceRows(100), "alice"),
		queryOp(lock, balanceRows(50), "bob"),
		execOp(debitSQL, mockResult{rowsAffected: 1}, int64(20), nil, "bob"),
		execOp(creditSQL, mockResult{rowsAffected: 1}, int64(20), nil, "alice"),
		commitOp(),
	})
	defer drv.assertConsumed(t)

	tr, err := store.Transfer(context.Background(), "bob", "alice", 20)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if tr.FromBalance != 30 || tr.ToBalance != 120 {
		t.Fatalf("unexpected balances: %+v", tr)
	}
}

func TestSQLStoreTransferInsufficientRollsBack(t *testing.T) {
	t.Parallel()

	lock := lockBalanceSQL + " FOR UPDATE"
	store, drv := newMySQLStore(t, []mockOperation{
		beginOp(),
		queryOp(lock, balanceRows(100), "alice"),
		queryOp(lock, balanceRows(50), "bob"),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)

	_, err := store.Transfer(context.Background(), "alice", "bob", 1000)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSQLStoreTransferMissingAccountRollsBack(t *testing.T) {
	t.Parallel()

	lock := lockBalanceSQL + " FOR UPDATE"
	store, drv := newMySQLStore(t, []mockOperation{
		beginOp(),
		queryOp(lock, balanceRows(100), "alice"),
		queryOp(lock, mockRowsData{columns: []string{"balance"}}, "zed"),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)

	if _, err := store.Transfer(context.Background(), "alice", "zed", 10); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSQLStoreTransferStorageFailure(t *testing.T) {
	t.Parallel()

	lock := lockBalanceSQL + " FOR UPDATE"
	store, drv := newMySQLStore(t, []mockOperation{
		beginOp(),
		queryOp(lock, balanceRows(100), "alice"),
		queryOp(lock, balanceRows(50), "bob"),
		execErrOp(debitSQL, errors.New("connection reset")),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)

	_, err := store.Transfer(context.Background(), "alice", "bob", 10)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestSQLStoreTransferValidatesBeforeBegin(t *testing.T) {
	t.Parallel()

	store, drv := newMySQLStore(t, nil)
	defer drv.assertConsumed(t)

	if _, err := store.Transfer(context.Background(), "alice", "bob", 0); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := store.Transfer(context.Background(), "alice", "alice", 5); !errors.Is(err, ledger.ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
}

func TestSQLStoreRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil || len(files) == 0 {
		t.Fatalf("load migrations: %v", err)
	}

	ops := []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(files[0].statements[0], mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}, "0001", nil),
		commitOp(),
	}
	store, drv := newMySQLStore(t, ops)
	defer drv.assertConsumed(t)

	if err := store.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLStoreSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}, values: [][]driver.Value{{"0001"}}}),
	}
	store, drv := newMySQLStore(t, ops)
	defer drv.assertConsumed(t)

	if err := store.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestDialectRebind(t *testing.T) {
	pg, err := lookupDialect("postgres")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	got := pg.rebind(debitSQL)
	want := `UPDATE accounts SET balance = balance - $1, updated_at = $2 WHERE username = $3`
	if got != want {
		t.Fatalf("unexpected rebind: %s", got)
	}
	my, _ := lookupDialect("MySQL")
	if my.rebind(debitSQL) != debitSQL {
		t.Fatalf("mysql must keep ? placeholders")
	}
	if _, err := lookupDialect("oracle"); err == nil {
		t.Fatalf("expected unknown dialect error")
	}
}

func TestSplitSQLStatementsSkipsComments(t *testing.T) {
	stmts := splitSQLStatements("-- header\nCREATE TABLE a (id INT);\n\n-- next\nCREATE TABLE b (id INT);\n")
	if len(stmts) != 2 || stmts[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", stmts)
	}
	if parseMigrationVersion("0002_add_index.sql") != "0002" {
		t.Fatalf("unexpected version")
	}
}
