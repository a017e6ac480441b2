package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeLegacyNotesJSONArray(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := `[{"note":"called","author":"u1","authorName":"Rec","timestamp":"2025-02-01T10:00:00Z"},{"note":"","author":"u1"}]` +
		"\n---\n" + `{"_sorb":{"rank":"PFC"}}`
	notes := DecodeLegacyNotes(raw, "s1", "owner", created)
	require.Len(t, notes, 1)
	require.Equal(t, "called", notes[0].Text)
	require.Equal(t, "Rec", notes[0].AuthorName)
	require.Equal(t, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), notes[0].CreatedAt)
}

func TestDecodeLegacyNotesPlainText(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := DecodeLegacyNotes("met at the fair", "s1", "owner", created)
	require.Len(t, notes, 1)
	require.Equal(t, "owner", notes[0].AuthorID)
	require.Equal(t, created, notes[0].CreatedAt)

	require.Empty(t, DecodeLegacyNotes(`{"_sorb":{}}`, "s1", "owner", created))
	require.Empty(t, DecodeLegacyNotes("[SORB_IMPORT] Rank: PFC", "s1", "owner", created))
	require.Empty(t, DecodeLegacyNotes("", "s1", "owner", created))
}

func TestParseLegacySORB(t *testing.T) {
	p, ok := ParseLegacySORB("free text\n---\n" + `{"_sorb":{"rank":"SGT","gt":110.0,"pipeline":"18X","priorSOCOM":true,"pushups":55}}`)
	require.True(t, ok)
	require.Equal(t, "SGT", p.Rank)
	require.Equal(t, 110, *p.GT)
	require.Equal(t, 55, *p.Pushups)
	require.True(t, p.PriorSOCOM)

	p, ok = ParseLegacySORB("Rank: PFC | GT: 104 | SORB Co: A Co | Log Attempt: 2 | Contacted: Y")
	require.True(t, ok)
	require.Equal(t, "PFC", p.Rank)
	require.Equal(t, 104, *p.GT)
	require.Equal(t, "A Co", p.SORBCompany)
	require.Equal(t, "2", p.LogAttempt)
	require.True(t, p.Contacted)

	_, ok = ParseLegacySORB("Called: left voicemail")
	require.False(t, ok)
	_, ok = ParseLegacySORB("")
	require.False(t, ok)
}
