package remote

import "time"

// Timestamp is the backend's native time representation.
type Timestamp struct {
	Seconds     int64 `json:"_seconds"`
	Nanoseconds int32 `json:"_nanoseconds"`
}

// TimestampFromTime converts t, returning nil for the zero time.
func TimestampFromTime(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	return &Timestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

// Time converts back to a UTC time.Time. A nil Timestamp is the zero time.
func (ts *Timestamp) Time() time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Unix(ts.Seconds, int64(ts.Nanoseconds)).UTC()
}
