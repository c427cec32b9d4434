package mpesa

import (
	"encoding/base64"
	"time"
)

const timestampLayout = "20060102150405"

// eat is East Africa Time; Daraja timestamps are local to Nairobi.
var eat = time.FixedZone("EAT", 3*60*60)

// Password builds the STK password base64(shortCode + passkey + timestamp)
// and returns it with the timestamp it was derived from.
func Password(shortCode, passkey string, at time.Time) (password, timestamp string) {
	timestamp = at.In(eat).Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
	return password, timestamp
}

func parseTimestamp(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(timestampLayout, s, eat)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
