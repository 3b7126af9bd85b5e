package domain

import "time"

// BuildInfo records the fingerprints of a task's last successful run.
type BuildInfo struct {
	Variant    string    `json:"variant,omitzero"`
	TaskName   string    `json:"task_name,omitzero"`
	InputHash  string    `json:"input_hash,omitzero"`
	OutputHash string    `json:"output_hash,omitzero"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// BuildInfoKey identifies a task run within a variant, e.g. "release/package:x86_64".
func BuildInfoKey(variant, taskName string) string {
	return variant + "/" + taskName
}

// Key returns the store key of the record.
func (b BuildInfo) Key() string {
	return BuildInfoKey(b.Variant, b.TaskName)
}
