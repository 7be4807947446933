package alert

import (
	"strconv"
	"strings"
	"time"

	"github.com/pcmlabs/alertwatch/internal/zabbix"
)

// placeholderMarker is the unresolved Zabbix macro prefix. An opdata
// string still containing it never reached macro expansion and must not
// be surfaced to the operator.
const placeholderMarker = "{ITEM.LASTVALUE"

// Normalize converts one raw trigger into a canonical Record. Every
// field has a defined fallback; the only rejection is a record with no
// identifier, in which case ok is false and the caller should skip it
// with a warning. Normalization never fails a cycle.
func Normalize(t zabbix.Trigger, now time.Time, sourceLabel string) (Record, bool) {
	id := strings.TrimSpace(t.TriggerID)
	if id == "" {
		return Record{}, false
	}

	host := UnknownHost
	if len(t.Hosts) > 0 && strings.TrimSpace(t.Hosts[0].Name) != "" {
		host = strings.TrimSpace(t.Hosts[0].Name)
	}

	category, detail := splitDescription(t.Description)

	lastChange, _ := strconv.ParseInt(strings.TrimSpace(t.Lastchange), 10, 64)
	age := now.Unix() - lastChange
	if age < 0 {
		age = 0
	}

	acked := t.LastEvent != nil && t.LastEvent.Acknowledged == "1"

	return Record{
		ID:          id,
		SourceLabel: sourceLabel,
		Host:        host,
		Category:    category,
		Detail:      detail,
		Severity:    SeverityLabel(t.Priority),
		Opdata:      resolveOpdata(t),
		LastChange:  lastChange,
		AgeSeconds:  age,
		Acked:       acked,
	}, true
}

// resolveOpdata picks the operational-data string. The event-level value
// wins because Zabbix expands macros there first; a value still carrying
// an unresolved placeholder falls through rather than being surfaced.
func resolveOpdata(t zabbix.Trigger) string {
	if t.LastEvent != nil {
		if v := usableOpdata(t.LastEvent.Opdata); v != "" {
			return v
		}
	}
	if v := usableOpdata(t.Opdata); v != "" {
		return v
	}
	return NoData
}

func usableOpdata(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" || strings.Contains(v, placeholderMarker) {
		return ""
	}
	return v
}

// splitDescription cuts the free-text description on the first colon
// into a category prefix and the detail. No colon means the whole
// trimmed text is the detail under the General category.
func splitDescription(desc string) (category, detail string) {
	before, after, ok := strings.Cut(desc, ":")
	if !ok {
		return GeneralCategory, strings.TrimSpace(desc)
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}
