package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsKeepsFirstReason(t *testing.T) {
	errs := Errors{}
	errs.Add("title", "required")
	errs.Add("title", "too long")
	errs.Add("description", "too long")

	err := errs.Err()
	require.Error(t, err)
	assert.Equal(t, "validation failed: description: too long; title: required", err.Error())

	var target Errors
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "required", target["title"])
}

func TestErrorsEmptyIsNil(t *testing.T) {
	assert.NoError(t, Errors{}.Err())
}
