// Package wire holds the loosely-typed shapes the backend sends over HTTP and
// the realtime channel, and normalizes them into canonical models before
// anything reaches a reducer.
package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/example/driver-console-sync/internal/models"
)

// Number accepts a JSON number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Timestamp accepts RFC 3339 strings (with or without fractional seconds),
// "2006-01-02 15:04:05" and unix milliseconds.
type Timestamp struct{ time.Time }

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return err
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	// Unparseable timestamps are left zero rather than failing the record.
	t.Time = time.Time{}
	return nil
}

// Flag accepts a JSON bool, 0/1, or "true"/"false".
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(b)), `"`)) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstID(ids ...models.ID) models.ID {
	for _, id := range ids {
		if !id.Empty() {
			return id
		}
	}
	return ""
}

func firstNumber(ns ...Number) float64 {
	for _, n := range ns {
		if n != 0 {
			return float64(n)
		}
	}
	return 0
}

func firstTime(ts ...Timestamp) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t.Time
		}
	}
	return time.Time{}
}

var statusAliases = map[string]models.JobStatus{}

func init() {
	for _, s := range []models.JobStatus{
		models.StatusScheduled, models.StatusApproved, models.StatusInbound,
		models.StatusArrived, models.StatusBoarded, models.StatusInProgress,
		models.StatusPaymentDue, models.StatusHandoverPending, models.StatusActive,
		models.StatusReturnPending, models.StatusCompleted, models.StatusCancelled,
	} {
		statusAliases[statusKey(string(s))] = s
	}
	statusAliases["canceled"] = models.StatusCancelled
	statusAliases["accepted"] = models.StatusApproved
	statusAliases["ongoing"] = models.StatusInProgress
	statusAliases["started"] = models.StatusInProgress
}

func statusKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// NormalizeStatus maps the spellings seen upstream ("in_progress",
// "IN PROGRESS", "canceled") onto the canonical statuses. Unknown values are
// returned as-is.
func NormalizeStatus(raw string) models.JobStatus {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if s, ok := statusAliases[statusKey(raw)]; ok {
		return s
	}
	return models.JobStatus(raw)
}

// NormalizeKind maps a job type field onto share or hire. Unknown values
// return "" so the caller can infer the kind from the status.
func NormalizeKind(raw string) models.JobKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "share", "rideshare", "ride", "ride_share", "carpool":
		return models.KindShare
	case "hire", "rental", "vehicle", "vehicle_hire":
		return models.KindHire
	}
	return ""
}

// Unwrap returns the value of the first of keys holding a JSON object, or
// data itself. Some payloads nest the record ({"ride": {...}}), others send
// it flat.
func Unwrap(data json.RawMessage, keys ...string) json.RawMessage {
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("{}")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	for _, k := range keys {
		v := bytes.TrimSpace(m[k])
		if len(v) > 0 && v[0] == '{' {
			return v
		}
	}
	return data
}
