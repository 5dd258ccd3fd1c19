package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// WriteCSV serialises entries with one row per entry and the diff flattened
// into "field: old -> new" segments.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"id", "created_at", "actor_id", "action", "entity_type", "entity_id", "entity_label", "changes", "notes", "remote_addr"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.ActorID, 10),
			string(e.Action),
			e.EntityType,
			e.EntityID,
			e.EntityLabel,
			flattenChanges(e.Changes),
			e.Notes,
			e.RemoteAddr,
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func flattenChanges(changes Changes) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, c.Field+": "+c.Old+" -> "+c.New)
	}
	return strings.Join(parts, "; ")
}
