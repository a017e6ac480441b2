package stations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"recruitd.org/internal/store"
	"recruitd.org/internal/store/memory"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	list, err := Load()
	require.NoError(t, err)
	require.Len(t, list, 10+20*4)

	var sorb int
	for _, s := range list {
		require.Equal(t, s.Code, s.ID)
		if IsSORB(s.Code) {
			sorb++
		}
	}
	require.Equal(t, 80, sorb)
}

func TestSORBCode(t *testing.T) {
	require.Equal(t, "SORB-FTBRAGG-ACO", SORBCode("FT BRAGG", "A Co"))
	require.Equal(t, "SORB-EGLINAFBDESTIN-DCO", SORBCode("EGLIN AFB DESTIN", "D Co"))
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte(`
stations:
  - {code: X-1, name: One}
  - {code: X-1, name: Again}
`))
	require.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte(`stations: [{code: "", name: Nameless}]`))
	require.Error(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	list, err := Load()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		n, err := Seed(ctx, st, list)
		require.NoError(t, err)
		require.Equal(t, len(list), n)
	}
	require.NoError(t, st.Atomically(ctx, func(tx store.Tx) error {
		got, err := tx.ListStations(ctx)
		require.Len(t, got, len(list))
		return err
	}))
}
