// ABOUTME: Tests for pack registration and end-to-end tool invocation.
// ABOUTME: Exercises fuzzy resolution through the capability registry.

package mtr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/transit-gateway/internal/capability"
)

func testPack(t *testing.T, handler http.HandlerFunc) (*Pack, *capability.Registry) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pack := NewPack(NewClient(srv.URL, nil), nil)
	reg := capability.NewRegistry(nil)
	require.NoError(t, pack.Register(reg))
	reg.Freeze()
	return pack, reg
}

func TestRegister(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {})

	assert.Len(t, reg.ListTools(), 2)
	assert.Len(t, reg.ListResources(), 2)
	assert.Len(t, reg.ListPrompts(), 3)
}

func TestScheduleToolWithFuzzyNames(t *testing.T) {
	var gotQuery string
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(sampleSchedule))
	})

	// misspelled station and spelled-out line both resolve to codes
	result, err := reg.CallTool(context.Background(), "get_next_train_schedule", map[string]any{
		"line": "Tseung Kwan O Line",
		"sta":  "Tseng Kwan O",
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Contains(t, gotQuery, "line=TKL")
	assert.Contains(t, gotQuery, "sta=TKO")
	assert.Contains(t, result.Content[0].Text, "Next trains at Tseung Kwan O")
}

func TestScheduleToolRejectsBadArguments(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run on invalid arguments")
	})

	_, err := reg.CallTool(context.Background(), "get_next_train_schedule", map[string]any{
		"line": "TKL",
		// sta missing
	})
	assert.ErrorIs(t, err, capability.ErrInvalidArguments)

	_, err = reg.CallTool(context.Background(), "get_next_train_schedule", map[string]any{
		"line": "TKL",
		"sta":  "TKO",
		"lang": "FR", // not in the enum
	})
	assert.ErrorIs(t, err, capability.ErrInvalidArguments)
}

func TestScheduleToolUpstreamError(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"errorCode": "NT-204", "errorMsg": "The contents are empty!"}}`))
	})

	result, err := reg.CallTool(context.Background(), "get_next_train_schedule", map[string]any{
		"line": "TKL",
		"sta":  "TKO",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError) // domain failure, not protocol failure
	assert.Contains(t, result.Content[0].Text, "NT-204")
}

func TestStructuredTool(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSchedule))
	})

	result, err := reg.CallTool(context.Background(), "get_next_train_structured", map[string]any{
		"line": "tseung kwan o",
		"sta":  "tseung kwan o",
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	out, ok := result.StructuredContent.(StructuredSchedule)
	require.True(t, ok)
	assert.Equal(t, "TKL", out.ResolvedLine)
	assert.Equal(t, "TKO", out.ResolvedStation)
	assert.Len(t, out.Up, 2)
	assert.Len(t, out.Down, 1)
	assert.Nil(t, out.Error)
}

func TestStructuredToolEmptyFeed(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 1, "data": {}}`))
	})

	result, err := reg.CallTool(context.Background(), "get_next_train_structured", map[string]any{
		"line": "TKL",
		"sta":  "TKO",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	out := result.StructuredContent.(StructuredSchedule)
	require.NotNil(t, out.Error)
	assert.Equal(t, "NT-204", out.Error.Code)
}

func TestResources(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {})

	stations, err := reg.ReadResource(context.Background(), "mtr://stations/list")
	require.NoError(t, err)
	assert.Contains(t, stations.Text, "# MTR Station Reference")
	assert.Contains(t, stations.Text, "Tseung Kwan O (TKO)")

	lines, err := reg.ReadResource(context.Background(), "mtr://lines/map")
	require.NoError(t, err)
	assert.Contains(t, lines.Text, "Interchange Stations")
	assert.Contains(t, lines.Text, "| Admiralty | ADM |")
}

func TestPrompts(t *testing.T) {
	_, reg := testPack(t, func(w http.ResponseWriter, r *http.Request) {})

	messages, err := reg.GetPrompt(context.Background(), "check_next_train", map[string]string{
		"line": "TKL", "station": "TKO",
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
	assert.Contains(t, messages[0].Content.Text, "TKO station on the TKL line")

	// third station is optional
	messages, err = reg.GetPrompt(context.Background(), "compare_stations", map[string]string{
		"station1": "TKO", "station2": "ADM",
	})
	require.NoError(t, err)
	assert.Contains(t, messages[0].Content.Text, "TKO, ADM")

	_, err = reg.GetPrompt(context.Background(), "compare_stations", map[string]string{
		"station1": "TKO",
	})
	assert.ErrorIs(t, err, capability.ErrInvalidArguments)
}
