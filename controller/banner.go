package controller

import "strings"

// Banner is the parsed form of the C2 info reply's ASCII payload,
// "LAYOUT=<short>; PROTO=<v>; FW=<v>" (spec.md §4.5). Parsing this on
// the controller side is a supplemented feature carried over from
// original_source/ble_proto.cpp's parse_layout_from_banner, which the
// distilled spec.md left as an opaque string.
type Banner struct {
	Layout  string
	Proto   string
	FW      string
	Raw     string
	Unknown map[string]string
}

// ParseBanner splits a "k=v; k=v; ..." banner into a Banner. Unknown
// keys are preserved in Unknown rather than dropped, so future
// firmware fields don't need a controller update to be visible.
func ParseBanner(raw string) (Banner, error) {
	b := Banner{Raw: raw, Unknown: make(map[string]string)}
	for _, field := range strings.Split(raw, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "LAYOUT":
			b.Layout = val
		case "PROTO":
			b.Proto = val
		case "FW":
			b.FW = val
		default:
			b.Unknown[key] = val
		}
	}
	return b, nil
}
