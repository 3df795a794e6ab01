package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTableName(t *testing.T) {
	t.Parallel()

	name, err := TableName("")
	require.NoError(t, err)
	require.Equal(t, DefaultTable, name)

	name, err = TableName("results_2024")
	require.NoError(t, err)
	require.Equal(t, "results_2024", name)

	for _, bad := range []string{"1table", "drop table;", "a-b", "x y"} {
		_, err := TableName(bad)
		require.Error(t, err, bad)
	}
}

func TestSecondsRoundTrip(t *testing.T) {
	t.Parallel()

	d := 1500 * time.Millisecond
	require.InDelta(t, 1.5, Seconds(d), 1e-12)
	require.Equal(t, d, FromSeconds(Seconds(d)))
}
