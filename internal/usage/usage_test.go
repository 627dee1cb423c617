package usage_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/llm-cost-tracker/internal/usage"
)

func decodeRaw(t *testing.T, body string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var raw any
	require.NoError(t, dec.Decode(&raw))
	return raw
}

func requireDetails(t *testing.T, err error) []usage.FieldError {
	t.Helper()
	var verr *usage.ValidationError
	require.True(t, errors.As(err, &verr), "expected *usage.ValidationError, got %v", err)
	return verr.Details
}

func TestValidate_Valid(t *testing.T) {
	raw := decodeRaw(t, `{
		"provider": "openai",
		"model": "gpt-4",
		"inputTokens": 1000,
		"outputTokens": 500,
		"latencyMs": 842,
		"status": "error",
		"errorMessage": "upstream timeout",
		"tags": {"env": "prod", "attempt": 2, "nested": {"a": [1, 2]}}
	}`)

	rec, err := usage.Validate(raw)
	require.NoError(t, err)

	assert.Equal(t, "openai", rec.Provider)
	assert.Equal(t, "gpt-4", rec.Model)
	assert.Equal(t, int64(1000), rec.InputTokens)
	assert.Equal(t, int64(500), rec.OutputTokens)
	assert.Equal(t, int64(842), rec.LatencyMs)
	assert.Equal(t, "error", rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "upstream timeout", *rec.ErrorMessage)
	assert.Equal(t, "prod", rec.Tags["env"])

	// Tags round-trip to the same JSON they arrived as.
	encoded, err := json.Marshal(rec.Tags)
	require.NoError(t, err)
	assert.JSONEq(t, `{"env": "prod", "attempt": 2, "nested": {"a": [1, 2]}}`, string(encoded))
}

func TestValidate_Defaults(t *testing.T) {
	raw := decodeRaw(t, `{"provider":"anthropic","model":"claude-sonnet-4","inputTokens":0,"outputTokens":0,"latencyMs":0,"errorMessage":null,"tags":null}`)

	rec, err := usage.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, usage.DefaultStatus, rec.Status)
	assert.Nil(t, rec.ErrorMessage)
	assert.Nil(t, rec.Tags)
	assert.Zero(t, rec.InputTokens)
}

func TestValidate_EmptyStatusDefaults(t *testing.T) {
	rec, err := usage.Decode(strings.NewReader(`{"provider":"openai","model":"gpt-4","inputTokens":1,"outputTokens":1,"latencyMs":1,"status":""}`))
	require.NoError(t, err)
	assert.Equal(t, usage.DefaultStatus, rec.Status)
}

func TestValidate_WhitespaceIsNotEmpty(t *testing.T) {
	rec, err := usage.Decode(strings.NewReader(`{"provider":" ","model":"gpt-4","inputTokens":1,"outputTokens":1,"latencyMs":1}`))
	require.NoError(t, err)
	assert.Equal(t, " ", rec.Provider)
}

func TestValidate_AcceptsPlainFloatDecoding(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"provider":"openai","model":"gpt-4","inputTokens":12,"outputTokens":3,"latencyMs":1e3}`), &raw))

	rec, err := usage.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.InputTokens)
	assert.Equal(t, int64(1000), rec.LatencyMs)
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []usage.FieldError
	}{
		{
			name: "missing required fields",
			body: `{}`,
			want: []usage.FieldError{
				{Field: "provider", Message: "is required"},
				{Field: "model", Message: "is required"},
				{Field: "inputTokens", Message: "is required"},
				{Field: "outputTokens", Message: "is required"},
				{Field: "latencyMs", Message: "is required"},
			},
		},
		{
			name: "negative counts",
			body: `{"provider":"openai","model":"gpt-4","inputTokens":-1,"outputTokens":-20,"latencyMs":5}`,
			want: []usage.FieldError{
				{Field: "inputTokens", Message: "must be non-negative"},
				{Field: "outputTokens", Message: "must be non-negative"},
			},
		},
		{
			name: "empty strings",
			body: `{"provider":"","model":"","inputTokens":1,"outputTokens":1,"latencyMs":1,"status":""}`,
			want: []usage.FieldError{
				{Field: "provider", Message: "must not be empty"},
				{Field: "model", Message: "must not be empty"},
			},
		},
		{
			name: "status of the wrong type",
			body: `{"provider":"openai","model":"gpt-4","inputTokens":1,"outputTokens":1,"latencyMs":1,"status":false}`,
			want: []usage.FieldError{
				{Field: "status", Message: "expected string, got boolean"},
			},
		},
		{
			name: "type mismatches",
			body: `{"provider":42,"model":"gpt-4","inputTokens":"100","outputTokens":true,"latencyMs":[1],"errorMessage":7,"tags":"x"}`,
			want: []usage.FieldError{
				{Field: "provider", Message: "expected string, got number"},
				{Field: "inputTokens", Message: "expected integer, got string"},
				{Field: "outputTokens", Message: "expected integer, got boolean"},
				{Field: "latencyMs", Message: "expected integer, got array"},
				{Field: "errorMessage", Message: "expected string, got number"},
				{Field: "tags", Message: "expected object, got string"},
			},
		},
		{
			name: "fractional counts",
			body: `{"provider":"openai","model":"gpt-4","inputTokens":1.5,"outputTokens":2,"latencyMs":3}`,
			want: []usage.FieldError{
				{Field: "inputTokens", Message: "expected integer, got 1.5"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := usage.Validate(decodeRaw(t, tt.body))
			assert.Nil(t, rec)
			assert.Equal(t, tt.want, requireDetails(t, err))
		})
	}
}

func TestValidate_NotAnObject(t *testing.T) {
	for _, body := range []string{`[]`, `"text"`, `12`, `null`} {
		t.Run(body, func(t *testing.T) {
			_, err := usage.Validate(decodeRaw(t, body))
			details := requireDetails(t, err)
			require.Len(t, details, 1)
			assert.Empty(t, details[0].Field)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		rec, err := usage.Decode(strings.NewReader(`{"provider":"openai","model":"gpt-4","inputTokens":10,"outputTokens":20,"latencyMs":30}`))
		require.NoError(t, err)
		assert.Equal(t, int64(20), rec.OutputTokens)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := usage.Decode(strings.NewReader(`{invalid json}`))
		details := requireDetails(t, err)
		assert.Equal(t, []usage.FieldError{{Message: "invalid JSON"}}, details)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := usage.Decode(strings.NewReader(``))
		requireDetails(t, err)
	})

	t.Run("trailing data", func(t *testing.T) {
		_, err := usage.Decode(strings.NewReader(`{"provider":"openai"} {"provider":"openai"}`))
		requireDetails(t, err)
	})

	t.Run("stray closing brace", func(t *testing.T) {
		_, err := usage.Decode(strings.NewReader(`{"provider":"openai","model":"gpt-4","inputTokens":1,"outputTokens":1,"latencyMs":1}}`))
		details := requireDetails(t, err)
		assert.Equal(t, []usage.FieldError{{Message: "invalid JSON: trailing data"}}, details)
	})

	t.Run("trailing whitespace", func(t *testing.T) {
		_, err := usage.Decode(strings.NewReader("{\"provider\":\"openai\",\"model\":\"gpt-4\",\"inputTokens\":1,\"outputTokens\":1,\"latencyMs\":1}\n\t "))
		require.NoError(t, err)
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &usage.ValidationError{Details: []usage.FieldError{
		{Field: "provider", Message: "is required"},
		{Message: "invalid JSON"},
	}}
	assert.Equal(t, "validation failed: provider: is required; invalid JSON", err.Error())
}
