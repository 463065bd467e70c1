package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := DatabaseError(cause, "insert commit")

	assert.Equal(t, "insert commit: disk full", err.Error())
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, SeverityCritical, err.Severity)
	assert.Nil(t, Wrap(nil, ErrorTypeDatabase, SeverityHigh, "nothing"))
}

func TestFailureCodes(t *testing.T) {
	t.Run("explicit code wins", func(t *testing.T) {
		f := ValidationError("bad input").WithCode("invalid_request").Failure()
		assert.Equal(t, "invalid_request", f.Code)
		assert.Equal(t, "VALIDATION", f.Category)
		assert.Equal(t, "bad input", f.Detail)
	})

	t.Run("fallback code for typed error", func(t *testing.T) {
		f := FailureOf(DatabaseError(fmt.Errorf("locked"), "begin"), "ingestion_failed")
		require.NotNil(t, f)
		assert.Equal(t, "ingestion_failed", f.Code)
		assert.Equal(t, "DATABASE", f.Category)
	})

	t.Run("plain error is internal", func(t *testing.T) {
		f := FailureOf(fmt.Errorf("boom"), "ownership_failed")
		assert.Equal(t, "ownership_failed", f.Code)
		assert.Equal(t, "INTERNAL", f.Category)
		assert.Equal(t, "boom", f.Detail)
	})

	assert.Nil(t, FailureOf(nil, "x"))
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFoundErrorf("file %s not found", "a.go"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(InternalErrorf("x %d", 1)))
	assert.Equal(t, ErrorTypeNotFound, GetType(err))
}

func TestDetailedString(t *testing.T) {
	err := DatabaseError(fmt.Errorf("locked"), "replacing ownership").
		WithContext("repo_id", int64(7))

	detail := err.DetailedString()
	assert.Contains(t, detail, "[CRITICAL] [DATABASE] replacing ownership")
	assert.Contains(t, detail, "Caused by: locked")
	assert.Contains(t, detail, "repo_id: 7")
	assert.Contains(t, detail, "Stack trace:")
	assert.Equal(t, int64(7), err.Context["repo_id"])
}
