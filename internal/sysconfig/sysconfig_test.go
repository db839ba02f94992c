package sysconfig

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

type fakeStore struct {
	rows  []store.Configuration
	lists int
}

func (f *fakeStore) ListConfigurations(context.Context) ([]store.Configuration, error) {
	f.lists++
	return f.rows, nil
}

func (f *fakeStore) UpsertConfiguration(_ context.Context, key string, value json.RawMessage, description, _ string) (store.Configuration, error) {
	for i, r := range f.rows {
		if r.Key == key {
			f.rows[i].Value = value
			return f.rows[i], nil
		}
	}
	row := store.Configuration{Key: key, Value: value, Description: description}
	f.rows = append(f.rows, row)
	return row, nil
}

func defaults() SystemConfig {
	return SystemConfig{
		SerpResultsPerQuery:      50,
		SerpRequestsPerSecond:    5,
		SerpBurst:                5,
		SerpCreditCostUSD:        0.001,
		MaxQueriesPerSession:     50,
		TitleSimilarityThreshold: 0.9,
		ExportRetention:          720 * time.Hour,
	}
}

func TestGetLayersStoredOverrides(t *testing.T) {
	fs := &fakeStore{rows: []store.Configuration{
		{Key: KeySerpBurst, Value: json.RawMessage(`10`)},
		{Key: KeyExportRetentionHours, Value: json.RawMessage(`48`)},
		{Key: KeyTitleSimilarityThreshold, Value: json.RawMessage(`1.5`)},
		{Key: "ui.theme", Value: json.RawMessage(`"dark"`)},
	}}
	p := NewProvider(defaults(), fs, time.Minute, nil)

	cfg, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.SerpBurst)
	assert.Equal(t, 48*time.Hour, cfg.ExportRetention)
	assert.Equal(t, 0.9, cfg.TitleSimilarityThreshold, "invalid override is ignored")

	_, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fs.lists, "second read is served from cache")
}

func TestSetValidatesAndInvalidates(t *testing.T) {
	fs := &fakeStore{}
	p := NewProvider(defaults(), fs, time.Minute, nil)

	_, err := p.Set(context.Background(), KeyMaxQueriesPerSession, json.RawMessage(`0`), "", "admin")
	var verrs validate.Errors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs, KeyMaxQueriesPerSession)

	_, err = p.Set(context.Background(), KeySerpBurst, json.RawMessage(`2.5`), "", "admin")
	require.Error(t, err)

	_, err = p.Set(context.Background(), KeyMaxQueriesPerSession, json.RawMessage(`20`), "Cap per session", "admin")
	require.NoError(t, err)

	cfg, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxQueriesPerSession)
}

func TestSetAcceptsUnknownKeys(t *testing.T) {
	p := NewProvider(defaults(), &fakeStore{}, time.Minute, nil)
	row, err := p.Set(context.Background(), "ui.banner", json.RawMessage(`{"text":"maintenance"}`), "", "admin")
	require.NoError(t, err)
	assert.Equal(t, "ui.banner", row.Key)

	_, err = p.Set(context.Background(), "ui.banner", json.RawMessage(`{broken`), "", "admin")
	require.Error(t, err)
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	require.Len(t, keys, 7)
	assert.Equal(t, KeyTitleSimilarityThreshold, keys[0])
}
