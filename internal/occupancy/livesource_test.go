package occupancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raum-tracker/occupancy/internal/httputil"
)

func newTestLiveSource(mock *httputil.MockHTTPClient) *LiveSource {
	return NewLiveSource("http://counter.local/update_count", mock, 5*time.Second, 2*time.Minute)
}

func TestLiveSource_Fetch(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":true,"count":18,"display_count":36,"seconds_since_count_update":10}`)

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, 18, sample.CounterRaw)
	assert.Equal(t, 36, sample.DisplayCount)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestLiveSource_NoData(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":false,"count":0}`)

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
}

func TestLiveSource_MissingDisplayCount(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":true,"count":12}`)

	// has_data without both count fields is not usable.
	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
}

func TestLiveSource_StaleSample(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":true,"count":4,"display_count":4,"seconds_since_count_update":900}`)

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
}

func TestLiveSource_HTTPError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(503, `service unavailable`)

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.Error(t, err)
	assert.Nil(t, sample)
}

func TestLiveSource_TransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection refused"))

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.Error(t, err)
	assert.Nil(t, sample)
}

func TestLiveSource_MalformedJSON(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":`)

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.Error(t, err)
	assert.Nil(t, sample)
}

func TestLiveSource_NegativeCountClamped(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":true,"count":-2,"display_count":-2}`)

	sample, err := newTestLiveSource(mock).Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, 0, sample.CounterRaw)
	assert.Equal(t, 0, sample.DisplayCount)
}

func TestLiveSource_DisabledWhenUnconfigured(t *testing.T) {
	var s *LiveSource

	sample, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)

	s = &LiveSource{URL: "", Client: httputil.NewMockHTTPClient(), Timeout: time.Second}
	sample, err = s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
}
