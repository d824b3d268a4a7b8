package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect 屏蔽不同数据库在占位符、行锁与唯一键冲突上的差异。
type dialect struct {
	name       string
	driverName string
	// dollar 表示使用 $1..$n 占位符。
	dollar bool
	// lockClause 追加在加锁查询之后，sqlite 依赖单连接串行化，不需要行锁。
	lockClause      string
	uniqueViolation func(error) bool
}

var dialects = map[string]dialect{
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		lockClause: " FOR UPDATE",
		uniqueViolation: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
	},
	"postgres": {
		name:       "postgres",
		driverName: "pgx",
		dollar:     true,
		lockClause: " FOR UPDATE",
		uniqueViolation: func(err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	},
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		uniqueViolation: func(err error) bool {
			var liteErr *sqlite.Error
			if !errors.As(err, &liteErr) {
				return false
			}
			code := liteErr.Code()
			return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return dialect{}, fmt.Errorf("不支持的数据库驱动: %s", name)
	}
	return d, nil
}

// rebind 将 ? 占位符改写为当前方言的形式。
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
