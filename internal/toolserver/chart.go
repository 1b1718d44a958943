package toolserver

import (
	"encoding/json"

	"voltiq/internal/usage"
)

// chartPayload renders a table's chart hint as the JSON side-band the chat
// UI parses out of the assistant response. Tables without a hint produce no
// payload.
func chartPayload(t *usage.Table) string {
	if t.Chart == nil {
		return ""
	}

	data := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		entry := map[string]any{t.KeyName: row.Key}
		for i, name := range t.ValueNames {
			if i < len(row.Values) {
				entry[name] = row.Values[i]
			}
		}
		data = append(data, entry)
	}

	payload := map[string]any{
		"chartType": t.Chart.Kind,
		"chartData": data,
		"chartConfig": map[string]any{
			"xAxisDataKey":      t.Chart.XKey,
			"dataKeys":          t.ValueNames,
			"tooltipValueLabel": t.Chart.Label,
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
