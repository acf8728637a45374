package usage

// HasChanged decides whether cur warrants a notification relative to prev.
//
// The very first reading (prev == nil) always counts as changed. Otherwise
// only fields enabled in t are compared, and values are compared as opaque
// strings: "5%" vs "5.0%" is a change.
func HasChanged(prev, cur *Snapshot, t Tracking) bool {
	if prev == nil {
		return true
	}
	for _, k := range t.enabledKeys() {
		if !eqField(prev.Field(k), cur.Field(k)) {
			return true
		}
	}
	return false
}

func eqField(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
