package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Signature computes the deterministic structural hash identifying a
// (tool, server, arguments) combination. Equal inputs always produce equal
// signatures regardless of map iteration order, which is what makes approval
// enqueue idempotent and the approved-signature cache matchable.
func Signature(toolName, serverID string, args map[string]any) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(serverID))
	h.Write([]byte{0})
	h.Write([]byte(CanonicalJSON(args)))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON serializes v with stable (sorted) object key ordering at
// every nesting level.
func CanonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case string:
		writeJSONString(b, val)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		b.WriteString(val.String())
	default:
		// Uncommon types fall back to encoding/json; ordering concerns only
		// apply to maps, which are handled above.
		if data, err := json.Marshal(val); err == nil {
			b.Write(data)
		} else {
			writeJSONString(b, fmt.Sprintf("%v", val))
		}
	}
}

func writeJSONString(b *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}
