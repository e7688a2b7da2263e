package types

import (
	"encoding/json"
	"fmt"
)

// ErrorLabel keys not-found and already-exists entries in a result log
const ErrorLabel = "Error"

// NothingToDo is logged when an idempotency check finds no work
const NothingToDo = "Nothing to do"

// ResultEntry is one step of an orchestrated workflow: a label plus either
// the remote payload stored verbatim or a plain message.
type ResultEntry struct {
	Label   string
	Payload json.RawMessage
	Message string
}

// IsError reports whether the entry is a soft failure (not found, already exists)
func (e ResultEntry) IsError() bool {
	return e.Label == ErrorLabel
}

// MarshalJSON renders {"<label>": <payload or message>}
func (e ResultEntry) MarshalJSON() ([]byte, error) {
	var value json.RawMessage
	if len(e.Payload) > 0 {
		value = e.Payload
	} else {
		msg, err := json.Marshal(e.Message)
		if err != nil {
			return nil, err
		}
		value = msg
	}
	return json.Marshal(map[string]json.RawMessage{e.Label: value})
}

// UnmarshalJSON reads the single-key object written by MarshalJSON
func (e *ResultEntry) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("result entry must have exactly one key, got %d", len(m))
	}
	for label, value := range m {
		e.Label = label
		var msg string
		if len(value) > 0 && value[0] == '"' && json.Unmarshal(value, &msg) == nil {
			e.Message = msg
			e.Payload = nil
		} else {
			e.Payload = value
			e.Message = ""
		}
	}
	return nil
}

// OperationResult is the ordered, append-only audit trail of a workflow
type OperationResult struct {
	entries  []ResultEntry
	observer func(ResultEntry)
}

// NewOperationResult returns an empty log
func NewOperationResult() *OperationResult {
	return &OperationResult{entries: []ResultEntry{}}
}

// OnAppend registers a callback invoked synchronously for every new entry
func (r *OperationResult) OnAppend(fn func(ResultEntry)) {
	r.observer = fn
}

func (r *OperationResult) add(e ResultEntry) {
	r.entries = append(r.entries, e)
	if r.observer != nil {
		r.observer(e)
	}
}

// Append records a step and the remote payload it returned
func (r *OperationResult) Append(label string, payload json.RawMessage) {
	r.add(ResultEntry{Label: label, Payload: payload})
}

// AppendMessage records a step with a plain message outcome
func (r *OperationResult) AppendMessage(label, message string) {
	r.add(ResultEntry{Label: label, Message: message})
}

// AppendError records a soft failure under the "Error" label
func (r *OperationResult) AppendError(format string, args ...interface{}) {
	r.add(ResultEntry{Label: ErrorLabel, Message: fmt.Sprintf(format, args...)})
}

// Entries returns a copy of the log in issuance order
func (r *OperationResult) Entries() []ResultEntry {
	out := make([]ResultEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries
func (r *OperationResult) Len() int {
	return len(r.entries)
}

// Labels returns the entry labels in order
func (r *OperationResult) Labels() []string {
	labels := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		labels = append(labels, e.Label)
	}
	return labels
}

// MarshalJSON renders the log as a JSON array (never null)
func (r *OperationResult) MarshalJSON() ([]byte, error) {
	if r == nil || r.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.entries)
}

// UnmarshalJSON reads a JSON array of entries
func (r *OperationResult) UnmarshalJSON(data []byte) error {
	var entries []ResultEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if entries == nil {
		entries = []ResultEntry{}
	}
	r.entries = entries
	return nil
}
