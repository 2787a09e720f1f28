package database

import pgxmock "github.com/pashagolub/pgxmock/v3"

// NewMockPool returns a pgxmock pool that satisfies DBTX, so repository
// tests can run without a live database. Finish each test with
// ExpectationsWereMet.
func NewMockPool() (pgxmock.PgxPoolIface, error) {
	return pgxmock.NewPool()
}
