package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements Client for testing.
type mockClient struct {
	queryFn     func(ctx context.Context, soql string, out any) error
	insertOneFn func(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	updateOneFn func(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if m.insertOneFn != nil {
		return m.insertOneFn(ctx, sObjectName, record)
	}
	return "00Q000000000001", nil
}

func (m *mockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if m.updateOneFn != nil {
		return m.updateOneFn(ctx, sObjectName, id, fields)
	}
	return nil
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `o\'brien@example.com`, escapeSoql("o'brien@example.com"))
}

func TestFindOpenLeadByEmail(t *testing.T) {
	var gotSOQL string
	mc := &mockClient{queryFn: func(_ context.Context, soql string, out any) error {
		gotSOQL = soql
		*(out.(*[]Lead)) = []Lead{{ID: "00Q1", Email: "grace@example.com"}}
		return nil
	}}

	lead, err := FindOpenLeadByEmail(context.Background(), mc, "grace@example.com")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "00Q1", lead.ID)
	assert.Contains(t, gotSOQL, "WHERE Email = 'grace@example.com' AND IsConverted = false")
}

func TestFindOpenLeadByEmail_None(t *testing.T) {
	lead, err := FindOpenLeadByEmail(context.Background(), &mockClient{}, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestUpsertLead_Insert(t *testing.T) {
	var inserted map[string]any
	mc := &mockClient{insertOneFn: func(_ context.Context, obj string, rec map[string]any) (string, error) {
		assert.Equal(t, "Lead", obj)
		inserted = rec
		return "00Qnew", nil
	}}

	id, created, err := UpsertLead(context.Background(), mc, map[string]any{
		"LastName": "Hopper", "Company": "Grace Co", "Email": "grace@example.com",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "00Qnew", id)
	assert.Equal(t, "Hopper", inserted["LastName"])
}

func TestUpsertLead_UpdatesExisting(t *testing.T) {
	var updatedID string
	var updated map[string]any
	mc := &mockClient{
		queryFn: func(_ context.Context, _ string, out any) error {
			*(out.(*[]Lead)) = []Lead{{ID: "00Qold"}}
			return nil
		},
		insertOneFn: func(context.Context, string, map[string]any) (string, error) {
			t.Fatal("insert should not be called")
			return "", nil
		},
		updateOneFn: func(_ context.Context, _ string, id string, fields map[string]any) error {
			updatedID, updated = id, fields
			return nil
		},
	}

	id, created, err := UpsertLead(context.Background(), mc, map[string]any{
		"LastName": "Visitor", "Company": "Unknown", "Email": "grace@example.com", "Phone": "512-555-0147",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "00Qold", id)
	assert.Equal(t, "00Qold", updatedID)
	assert.Equal(t, "512-555-0147", updated["Phone"])
	assert.NotContains(t, updated, "LastName")
	assert.NotContains(t, updated, "Company")
}

func TestUpsertLead_RequiredFields(t *testing.T) {
	_, _, err := UpsertLead(context.Background(), &mockClient{}, map[string]any{"Company": "X"})
	assert.ErrorContains(t, err, "LastName is required")

	_, _, err = UpsertLead(context.Background(), &mockClient{}, map[string]any{"LastName": "X"})
	assert.ErrorContains(t, err, "Company is required")
}

func TestUpsertLead_QueryError(t *testing.T) {
	mc := &mockClient{queryFn: func(context.Context, string, any) error { return errors.New("session expired") }}
	_, _, err := UpsertLead(context.Background(), mc, map[string]any{"Email": "a@b.co", "LastName": "A", "Company": "B"})
	assert.ErrorContains(t, err, "session expired")
}

func TestConnect_RequiresClientID(t *testing.T) {
	_, err := Connect(JWTCreds{})
	assert.ErrorContains(t, err, "client id is required")
}
