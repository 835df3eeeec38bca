package ticket

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue_Format(t *testing.T) {
	tck, err := Issue(DefaultPrefix, "9f8b2c41-aaaa-bbbb-cccc-000000000000", "participant-1")
	require.NoError(t, err)

	parts := strings.Split(tck.Number, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, DefaultPrefix, parts[0])
	assert.Equal(t, "9f8b2c41", parts[1])
	assert.Len(t, parts[2], randomBytes*2)

	var payload QRPayload
	require.NoError(t, json.Unmarshal([]byte(tck.QRPayload), &payload))
	assert.Equal(t, tck.Number, payload.TicketNumber)
	assert.Equal(t, "9f8b2c41-aaaa-bbbb-cccc-000000000000", payload.EventID)
	assert.Equal(t, "participant-1", payload.ParticipantID)
}

func TestIssue_ShortEventID(t *testing.T) {
	tck, err := Issue(DefaultPrefix, "ev1", "p1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tck.Number, "TCK-ev1-"))
}

func TestIssue_UniqueUnderConcurrency(t *testing.T) {
	const n = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tck, err := Issue(DefaultPrefix, "event-1", "participant-1")
			require.NoError(t, err)
			mu.Lock()
			seen[tck.Number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every concurrently issued ticket must be unique")
}

func TestParse_StructuredAndRawResolveIdentically(t *testing.T) {
	tck, err := Issue(DefaultPrefix, "event-1", "participant-1")
	require.NoError(t, err)

	fromQR, err := Parse(tck.QRPayload)
	require.NoError(t, err)

	fromRaw, err := Parse("  " + tck.Number + "\n")
	require.NoError(t, err)

	assert.Equal(t, tck.Number, fromQR)
	assert.Equal(t, tck.Number, fromRaw)
}

func TestParse_BareTicketString(t *testing.T) {
	got, err := Parse("TCK-abc123")
	require.NoError(t, err)
	assert.Equal(t, "TCK-abc123", got)
}

func TestParse_MalformedJSONFallsBackToRaw(t *testing.T) {
	got, err := Parse(`{"ticket_number": broken`)
	require.NoError(t, err)
	assert.Equal(t, `{"ticket_number": broken`, got)
}

func TestParse_StructuredWithoutTicketNumberFallsBackToRaw(t *testing.T) {
	got, err := Parse(`{"event_id":"e1"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"event_id":"e1"}`, got)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}
