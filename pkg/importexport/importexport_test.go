package importexport

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

func TestRenderHistoryCSV(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	out, err := RenderHistoryCSV([]domain.ExecHistory{{
		ID: 1, DispatchID: "d1", InstanceID: 42, Host: "n42.clore.ai", Port: 40042,
		AuthMethod: "public_key", Bulk: true, Command: `echo "a,b"`,
		Failure: "none", ExitCode: 0, StartedAt: started, FinishedAt: started.Add(time.Second), DurationMs: 1000,
	}})
	require.NoError(t, err)

	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, historyHeader, recs[0])
	assert.Equal(t, `echo "a,b"`, recs[1][7])
	assert.Equal(t, "none", recs[1][9])
	assert.Equal(t, "2024-05-01T10:00:00Z", recs[1][11])
	assert.Len(t, recs[1], len(historyHeader))
}

func TestSerializeHistoryJSON_Empty(t *testing.T) {
	b, err := SerializeHistoryJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
