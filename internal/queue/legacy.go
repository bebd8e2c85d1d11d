package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// pwaEntry is an action as the browser client persisted it: underscore tags,
// a camelCase record under data and an ISO timestamp.
type pwaEntry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

var pwaTypes = map[string]ActionType{
	"member_add":      TypeMemberAdd,
	"member_update":   TypeMemberUpdate,
	"payment_add":     TypePaymentAdd,
	"attendance_mark": TypeAttendanceMark,
}

// decodeBareList reads an unversioned list. Entries carrying a payload are
// this service's own format; the rest are converted from the browser client.
func decodeBareList(raw []byte) ([]QueuedAction, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	out := make([]QueuedAction, 0, len(items))
	for i, item := range items {
		var head struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if head.Payload != nil {
			var qa QueuedAction
			if err := json.Unmarshal(item, &qa); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, qa)
			continue
		}

		var entry pwaEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		qa, err := entry.convert()
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, entry.Type, err)
		}
		out = append(out, qa)
	}
	return out, nil
}

func (e pwaEntry) convert() (QueuedAction, error) {
	qa := QueuedAction{ID: e.ID, Type: ActionType(e.Type), Payload: e.Data}
	if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		qa.EnqueuedAt = ts
	}

	typ, ok := pwaTypes[e.Type]
	if !ok {
		// kept verbatim; replay reports ErrUnknownActionType
		return qa, nil
	}
	qa.Type = typ

	var payload any
	switch typ {
	case TypeMemberAdd, TypeMemberUpdate:
		record, err := e.record()
		if err != nil {
			return qa, err
		}
		payload = map[string]json.RawMessage{"member": record}
	case TypePaymentAdd:
		record, err := e.record()
		if err != nil {
			return qa, err
		}
		payload = map[string]json.RawMessage{"payment": record}
	case TypeAttendanceMark:
		var data struct {
			MemberID string `json:"memberId"`
		}
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return qa, err
		}
		payload = AttendanceMark{MemberID: data.MemberID, At: qa.EnqueuedAt}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return qa, err
	}
	qa.Payload = raw
	return qa, nil
}

// record rewrites the camelCase keys of data to the snake_case used by the
// models. A record queued without an id gets one derived from the entry, so
// repeated replays stay idempotent.
func (e pwaEntry) record() (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(fields)+1)
	for k, v := range fields {
		out[snakeCase(k)] = v
	}
	if id, ok := out["id"]; !ok || string(id) == `""` || string(id) == "null" {
		raw, err := json.Marshal("pwa-" + e.ID)
		if err != nil {
			return nil, err
		}
		out["id"] = raw
	}
	return json.Marshal(out)
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
