package records

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aegis-api/internal/scope"
	"github.com/stanstork/aegis-api/internal/target"
	"github.com/stanstork/aegis-api/internal/target/targettest"
)

func openCustomers(t *testing.T) *target.Handle {
	t.Helper()
	spec, _ := targettest.NewSQLite(t, targettest.CustomersSchema...)
	h, err := target.NewBroker(targettest.Options(), zerolog.Nop()).Open(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestFetch(t *testing.T) {
	t.Parallel()
	h := openCustomers(t)
	f := NewFetcher(0, zerolog.Nop())

	rows, err := f.Fetch(context.Background(), h, scope.Scope{Table: "customers", PrimaryKey: "id", IDs: []string{"1", "3", "99"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]Row{}
	for _, r := range rows {
		require.NotNil(t, r["id"])
		byID[*r["id"]] = r
	}
	require.Contains(t, byID, "1")
	require.Contains(t, byID, "3")
	assert.Equal(t, "alice@example.com", *byID["1"]["email"])
	assert.Nil(t, byID["3"]["phone"], "NULL must stay null")
}

func TestFetchNoMatches(t *testing.T) {
	t.Parallel()
	h := openCustomers(t)

	rows, err := NewFetcher(10, zerolog.Nop()).Fetch(context.Background(), h, scope.Scope{Table: "customers", PrimaryKey: "id", IDs: []string{"404"}})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestFetchLimit(t *testing.T) {
	t.Parallel()
	h := openCustomers(t)

	rows, err := NewFetcher(1, zerolog.Nop()).Fetch(context.Background(), h, scope.Scope{Table: "customers", PrimaryKey: "id", IDs: []string{"1", "2", "3"}})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFetchMissingTable(t *testing.T) {
	t.Parallel()
	h := openCustomers(t)

	_, err := NewFetcher(0, zerolog.Nop()).Fetch(context.Background(), h, scope.Scope{Table: "nope", PrimaryKey: "id", IDs: []string{"1"}})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "nope", fetchErr.Table)
}

func TestStringify(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Nil(t, Stringify(nil))
	assert.Equal(t, "2024-05-06T07:08:09Z", *Stringify(ts))
	assert.Equal(t, "raw", *Stringify([]byte("raw")))
	assert.Equal(t, "42", *Stringify(int64(42)))
	assert.Equal(t, "1.5", *Stringify(1.5))
	assert.Equal(t, "true", *Stringify(true))
}
