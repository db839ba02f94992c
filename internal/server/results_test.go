package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

func TestParseResultFilterDefaults(t *testing.T) {
	ctx, _ := newContext(http.MethodGet, "/api/sessions/sess-1/results", "")
	f, err := parseResultFilter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, defaultPageSize, f.PageSize)
	assert.Nil(t, f.IsPDF)
}

func TestParseResultFilterReadsParams(t *testing.T) {
	ctx, _ := newContext(http.MethodGet, "/api/sessions/sess-1/results?page=3&page_size=50&year_from=2015&year_to=2020&is_pdf=true&decision=Include&ordering=-year&domain=who.int", "")
	f, err := parseResultFilter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, 50, f.PageSize)
	assert.Equal(t, 2015, f.YearFrom)
	assert.Equal(t, 2020, f.YearTo)
	require.NotNil(t, f.IsPDF)
	assert.True(t, *f.IsPDF)
	assert.Equal(t, "include", f.Decision)
	assert.Equal(t, "-year", f.OrderBy)
	assert.Equal(t, "who.int", f.Domain)
}

func TestParseResultFilterCollectsErrors(t *testing.T) {
	ctx, _ := newContext(http.MethodGet, "/api/sessions/sess-1/results?page=0&page_size=500&year_from=2021&year_to=2019&is_pdf=maybe&decision=skip&ordering=random", "")
	_, err := parseResultFilter(ctx)
	var vErrs validate.Errors
	require.ErrorAs(t, err, &vErrs)
	for _, field := range []string{"page", "page_size", "year_to", "is_pdf", "decision", "ordering"} {
		assert.Contains(t, vErrs, field)
	}
}
