package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aegis-api/internal/strategy"
	"github.com/stanstork/aegis-api/internal/target"
	"github.com/stanstork/aegis-api/internal/target/targettest"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Tables(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	tables, _ := args.Get(0).([]string)
	return tables, args.Error(1)
}

func (m *mockSource) Columns(ctx context.Context, table string) (target.TableColumns, error) {
	args := m.Called(ctx, table)
	return args.Get(0).(target.TableColumns), args.Error(1)
}

func (m *mockSource) Sample(ctx context.Context, table, column string, limit int) ([]string, error) {
	args := m.Called(ctx, table, column, limit)
	values, _ := args.Get(0).([]string)
	return values, args.Error(1)
}

func strategies(schema TableSchema) map[string]strategy.Kind {
	out := make(map[string]strategy.Kind, len(schema.Columns))
	for _, c := range schema.Columns {
		out[c.Name] = c.SuggestedStrategy
	}
	return out
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		column   string
		dataType string
		pk       bool
		want     strategy.Kind
		rule     string
	}{
		{name: "primary key", column: "id", dataType: "integer", pk: true, want: strategy.Ignore, rule: "row-identifier"},
		{name: "bare id without pk", column: "id", dataType: "integer", want: strategy.Ignore, rule: "default"},
		{name: "ssn", column: "ssn", dataType: "text", want: strategy.Hash, rule: "secret"},
		{name: "password hash", column: "password_hash", dataType: "character varying", want: strategy.Hash},
		{name: "camel case token", column: "apiToken", dataType: "text", want: strategy.Hash},
		{name: "national id pair", column: "national_id", dataType: "varchar(20)", want: strategy.Hash},
		{name: "classname is not ssn", column: "classname", dataType: "text", want: strategy.Mask, rule: "contact"},
		{name: "password timestamp", column: "password_changed_at", dataType: "timestamp without time zone", want: strategy.Preserve, rule: "temporal"},
		{name: "email", column: "email", dataType: "text", want: strategy.EmailMask, rule: "email"},
		{name: "work email camel", column: "workEmail", dataType: "text", want: strategy.EmailMask},
		{name: "email domain type", column: "contact", dataType: "email", want: strategy.EmailMask},
		{name: "email verified flag", column: "email_verified", dataType: "boolean", want: strategy.Ignore, rule: "structural"},
		{name: "phone", column: "phone", dataType: "text", want: strategy.Mask, rule: "contact"},
		{name: "mobile phone", column: "mobilePhone", dataType: "varchar", want: strategy.Mask},
		{name: "street address", column: "street_address", dataType: "text", want: strategy.Mask},
		{name: "full name", column: "full_name", dataType: "text", want: strategy.Mask},
		{name: "created at", column: "created_at", dataType: "timestamp with time zone", want: strategy.Preserve, rule: "temporal"},
		{name: "created at as text", column: "createdAt", dataType: "text", want: strategy.Preserve, rule: "temporal"},
		{name: "foreign key", column: "customer_id", dataType: "integer", want: strategy.Preserve, rule: "foreign-key"},
		{name: "amount", column: "total_amount", dataType: "numeric(10,2)", want: strategy.Preserve, rule: "business-metric"},
		{name: "money type", column: "paid", dataType: "money", want: strategy.Preserve, rule: "business-metric"},
		{name: "flag", column: "is_active", dataType: "integer", want: strategy.Ignore, rule: "structural"},
		{name: "soft delete flag", column: "is_deleted", dataType: "boolean", want: strategy.Ignore, rule: "structural"},
		{name: "soft delete flag as integer", column: "is_deleted", dataType: "integer", want: strategy.Ignore, rule: "structural"},
		{name: "soft delete timestamp", column: "deleted_at", dataType: "timestamp with time zone", want: strategy.Preserve, rule: "temporal"},
		{name: "status", column: "status", dataType: "text", want: strategy.Ignore, rule: "structural"},
		{name: "unmatched", column: "payload", dataType: "jsonb", want: strategy.Ignore, rule: "default"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule, _ := Evaluate(tt.column, tt.dataType, tt.pk)
			assert.Equal(t, tt.want, rule.Strategy)
			if tt.rule != "" {
				assert.Equal(t, tt.rule, rule.Name)
			}
		})
	}
}

func TestSecretRuleReason(t *testing.T) {
	t.Parallel()
	rule, _ := Evaluate("api_secret", "text", false)
	assert.Equal(t, "credential/identifier-like name", rule.Reason)
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"created", "at"}, Tokenize("created_at"))
	assert.Equal(t, []string{"user", "id"}, Tokenize("userID"))
	assert.Equal(t, []string{"http", "server", "url"}, Tokenize("HTTPServerURL"))
	assert.Equal(t, []string{"home", "address2"}, Tokenize("home-address2"))
	assert.Empty(t, Tokenize("__"))
}

func TestClassifyOmitsFailingTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := new(mockSource)
	src.On("Tables", mock.Anything).Return([]string{"broken", "customers"}, nil)
	src.On("Columns", mock.Anything, "broken").Return(target.TableColumns{}, errors.New("permission denied"))
	src.On("Columns", mock.Anything, "customers").Return(target.TableColumns{
		PrimaryKey: "id",
		Columns: []target.Column{
			{Name: "id", Type: "integer"},
			{Name: "email", Type: "text"},
			{Name: "phone", Type: "text"},
			{Name: "created_at", Type: "timestamp"},
		},
	}, nil)

	res, err := New(0, zerolog.Nop()).Classify(ctx, src)
	require.NoError(t, err)

	assert.Equal(t, PolicyVersion, res.PolicyVersion)
	require.Contains(t, res.Tables, "customers")
	assert.NotContains(t, res.Tables, "broken")
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "broken", res.Diagnostics[0].Table)

	assert.Equal(t, map[string]strategy.Kind{
		"id":         strategy.Ignore,
		"email":      strategy.EmailMask,
		"phone":      strategy.Mask,
		"created_at": strategy.Preserve,
	}, strategies(res.Tables["customers"]))
	src.AssertExpectations(t)
}

func TestClassifyTableListFailure(t *testing.T) {
	t.Parallel()

	src := new(mockSource)
	src.On("Tables", mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := New(5, zerolog.Nop()).Classify(context.Background(), src)
	var introErr *IntrospectionError
	require.ErrorAs(t, err, &introErr)
}

func TestClassifySampling(t *testing.T) {
	t.Parallel()

	src := new(mockSource)
	src.On("Tables", mock.Anything).Return([]string{"leads"}, nil)
	src.On("Columns", mock.Anything, "leads").Return(target.TableColumns{
		PrimaryKey: target.UnknownKey,
		Columns: []target.Column{
			{Name: "ref", Type: "text"},
			{Name: "contact_info", Type: "text"},
			{Name: "gov", Type: "text"},
			{Name: "blob", Type: "text"},
		},
	}, nil)
	src.On("Sample", mock.Anything, "leads", "ref", 3).Return([]string{"A-1", "A-2"}, nil)
	src.On("Sample", mock.Anything, "leads", "contact_info", 3).Return([]string{"a@b.io", "c@d.com", "n/a"}, nil)
	src.On("Sample", mock.Anything, "leads", "gov", 3).Return([]string{"123-45-6789", "987654321"}, nil)
	src.On("Sample", mock.Anything, "leads", "blob", 3).Return(nil, errors.New("cannot cast"))

	res, err := New(3, zerolog.Nop()).Classify(context.Background(), src)
	require.NoError(t, err)

	schema := res.Tables["leads"]
	assert.Equal(t, target.UnknownKey, schema.PrimaryKey)
	assert.Equal(t, map[string]strategy.Kind{
		"ref":          strategy.Ignore,
		"contact_info": strategy.EmailMask,
		"gov":          strategy.Hash,
		"blob":         strategy.Ignore,
	}, strategies(schema))
	assert.Equal(t, "content:ssn", schema.Columns[2].Rule)

	// one for the missing key, one for the failed sample
	assert.Len(t, res.Diagnostics, 2)
}

func TestClassifySQLite(t *testing.T) {
	t.Parallel()

	spec, _ := targettest.NewSQLite(t, append(targettest.CustomersSchema,
		`CREATE TABLE contacts (code TEXT, value TEXT)`,
		`INSERT INTO contacts VALUES ('x', 'dan@example.com'), ('y', 'erin@example.com')`,
	)...)
	h, err := target.NewBroker(targettest.Options(), zerolog.Nop()).Open(context.Background(), spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := New(DefaultSampleSize, zerolog.Nop()).Classify(context.Background(), h)
	require.NoError(t, err)

	customers := res.Tables["customers"]
	assert.Equal(t, "id", customers.PrimaryKey)
	assert.Equal(t, map[string]strategy.Kind{
		"id":         strategy.Ignore,
		"email":      strategy.EmailMask,
		"phone":      strategy.Mask,
		"created_at": strategy.Preserve,
	}, strategies(customers))

	contacts := res.Tables["contacts"]
	assert.Equal(t, target.UnknownKey, contacts.PrimaryKey)
	assert.Equal(t, strategy.EmailMask, strategies(contacts)["value"])
}
