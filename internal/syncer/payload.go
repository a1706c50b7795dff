package syncer

import (
	"encoding/json"
	"os"

	"quotesync/internal/model"
	"quotesync/internal/qsync"
)

// resolvePayload returns the snapshot bytes for item: the snapshot file
// when it can be read, else the inline payload.
func resolvePayload(item *model.SyncQueueItem, log qsync.Logger) ([]byte, error) {
	if item.SnapshotPath != "" {
		data, err := os.ReadFile(item.SnapshotPath)
		if err == nil {
			return data, nil
		}
		if len(item.Payload) == 0 {
			return nil, qsync.StorageError("reading snapshot "+item.SnapshotPath, err)
		}
		log.Warn("snapshot file unreadable, using inline payload", "item", item.ID, "path", item.SnapshotPath, "error", err)
	}
	if len(item.Payload) > 0 {
		return item.Payload, nil
	}
	return nil, qsync.InvalidArgument("sync item %d has neither snapshot path nor payload", item.ID)
}

// bestPayload is the payload recorded in a dead letter: the inline payload,
// else whatever can still be read from the snapshot path.
func bestPayload(item *model.SyncQueueItem) string {
	if len(item.Payload) > 0 {
		return string(item.Payload)
	}
	if item.SnapshotPath != "" {
		if data, err := os.ReadFile(item.SnapshotPath); err == nil {
			return string(data)
		}
	}
	return ""
}

// extractTotals returns the "totals" member of the payload, at the top level
// or under "quote". Pricing is never computed here.
func extractTotals(payload []byte) json.RawMessage {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	if t, ok := doc["totals"]; ok && string(t) != "null" {
		return t
	}
	if q, ok := doc["quote"]; ok {
		var quote map[string]json.RawMessage
		if err := json.Unmarshal(q, &quote); err == nil {
			if t, ok := quote["totals"]; ok && string(t) != "null" {
				return t
			}
		}
	}
	return nil
}
