package task

import (
	"encoding/json"
	"fmt"
)

// recordMigration is one step of the versioned load pipeline: detect the
// raw document's version, apply the steps after it in order, then decode
// into the current schema. Each step is pure over the raw map.
type recordMigration struct {
	from  string
	to    string
	apply func(raw map[string]any) error
}

var recordMigrations = []recordMigration{
	{from: "1.0", to: "1.1", apply: migrateStatusVocabulary},
}

// legacyStatuses maps free-text statuses written by 1.0 records onto the
// current enum.
var legacyStatuses = map[string]Status{
	"pending":     StatusNew,
	"created":     StatusNew,
	"running":     StatusInProgress,
	"in-progress": StatusInProgress,
	"done":        StatusCompleted,
	"complete":    StatusCompleted,
	"error":       StatusFailed,
	"failure":     StatusFailed,
}

// migrateRecord decodes a raw task.json of any supported version into the
// current Record schema.
func migrateRecord(data []byte) (*Record, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalidRecordf("malformed record JSON: %v", err)
	}

	version := "1.0"
	if v, ok := raw["version"].(string); ok && v != "" {
		version = v
	}

	applying := false
	for _, step := range recordMigrations {
		if step.from == version {
			applying = true
		}
		if !applying {
			continue
		}
		if err := step.apply(raw); err != nil {
			return nil, invalidRecordf("migrate %s to %s: %v", step.from, step.to, err)
		}
		version = step.to
	}
	if version != RecordVersion {
		return nil, invalidRecordf("unsupported record version %q", version)
	}

	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, invalidRecordf("re-encode migrated record: %v", err)
	}
	var record Record
	if err := json.Unmarshal(migrated, &record); err != nil {
		return nil, invalidRecordf("decode migrated record: %v", err)
	}
	record.Version = RecordVersion
	return &record, nil
}

// migrateStatusVocabulary coerces legacy free-text statuses onto the enum
// and backfills fields 1.0 records did not carry.
func migrateStatusVocabulary(raw map[string]any) error {
	status, ok := raw["status"].(string)
	if !ok || status == "" {
		return fmt.Errorf("missing status")
	}
	if !Status(status).IsValid() {
		mapped, known := legacyStatuses[status]
		if !known {
			return fmt.Errorf("unknown legacy status %q", status)
		}
		raw["status"] = string(mapped)
	}
	if _, ok := raw["iterations"]; !ok {
		raw["iterations"] = 1
	}
	return nil
}
