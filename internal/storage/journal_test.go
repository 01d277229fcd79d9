package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", "reqgate_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndQuery(t *testing.T) {
	j := openTestJournal(t)

	j.Record(&RequestRecord{RequestID: 1, Session: "s1", URL: "https://a.example/", Method: "GET", StatusCode: 200, Outcome: "completed", DurationMS: 12})
	j.Record(&RequestRecord{RequestID: 2, Session: "s1", URL: "https://b.example/", Method: "POST", Outcome: "blocked", Error: "blocked by client"})
	j.Record(&RequestRecord{RequestID: 3, Session: "s2", URL: "https://c.example/", Method: "GET", Outcome: "failed", Error: "connection reset"})

	recent, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(3), recent[0].RequestID, "newest first")

	s1, err := j.BySession("s1", 10)
	require.NoError(t, err)
	require.Len(t, s1, 2)
	for _, rec := range s1 {
		assert.Equal(t, "s1", rec.Session)
	}

	limited, err := j.Recent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNilJournalSafe(t *testing.T) {
	var j *Journal
	j.Record(&RequestRecord{RequestID: 1})
	assert.NoError(t, j.Close())
}
