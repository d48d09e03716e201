package importexport

import (
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

var historyHeader = []string{
	"id", "dispatch_id", "instance_id", "host", "port", "auth_method", "bulk",
	"command", "exit_code", "failure", "error", "started_at", "finished_at", "duration_ms",
}

// RenderHistoryCSV 输出 CSV 字符串 (含 header)
func RenderHistoryCSV(rows []domain.ExecHistory) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(historyHeader); err != nil {
		return "", err
	}
	for _, h := range rows {
		rec := []string{
			strconv.FormatInt(h.ID, 10),
			h.DispatchID,
			strconv.FormatInt(h.InstanceID, 10),
			h.Host,
			strconv.Itoa(h.Port),
			h.AuthMethod,
			strconv.FormatBool(h.Bulk),
			h.Command,
			strconv.Itoa(h.ExitCode),
			h.Failure,
			h.ErrorText,
			formatTime(h.StartedAt),
			formatTime(h.FinishedAt),
			strconv.FormatInt(h.DurationMs, 10),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

// SerializeHistoryJSON 输出 JSON 数组，空列表输出 []
func SerializeHistoryJSON(rows []domain.ExecHistory) ([]byte, error) {
	if rows == nil {
		rows = []domain.ExecHistory{}
	}
	return json.Marshal(rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
