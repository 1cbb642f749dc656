package trace

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"trace_id", "timestamp", "prompt", "intent", "model", "tool",
	"rag_used", "success", "duration_ms", "reward",
}

// Export writes records in the given format.
func Export(w io.Writer, records []Record, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []Record{}
		}
		return enc.Encode(records)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range records {
			reward := ""
			if r.Reward != nil {
				reward = strconv.FormatFloat(*r.Reward, 'f', -1, 64)
			}
			row := []string{
				r.TraceID,
				r.Timestamp.Format(time.RFC3339),
				r.Prompt,
				r.Intent,
				r.ModelUsed,
				r.ToolName(),
				strconv.FormatBool(r.RAGUsed),
				strconv.FormatBool(r.Success),
				strconv.FormatInt(r.DurationMs, 10),
				reward,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
