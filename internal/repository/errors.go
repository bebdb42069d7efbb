package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("duplicate success payment event")
	ErrUnknownPlan    = errors.New("unknown or inactive plan")
)

const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
