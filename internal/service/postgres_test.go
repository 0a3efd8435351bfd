package service

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/faktor/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newPostgresHarness runs the services against a fresh schema in the database
// named by TEST_DB_SOURCE, with token accounts in the same transactions.
func newPostgresHarness(t *testing.T) *harness {
	t.Helper()
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	schema := "faktor_svc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	pg, err := store.NewPostgres(ctx, schemaDSN(dsn, schema), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	require.NoError(t, pg.Migrate(ctx))

	return newHarnessOn(t, pg, store.NewPostgresTokens(pg.Db))
}

func schemaDSN(dsn, schema string) string {
	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " search_path=" + schema
}
