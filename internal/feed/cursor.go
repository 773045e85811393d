package feed

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sajalbasnet/chautari/internal/apperr"
)

// cursor marks a position in the total order of one (filter, sort)
// combination: the sort key and tiebreak id of the last item returned. It is
// opaque to clients; Sort travels inside it so a token replayed against a
// different ordering is rejected instead of silently drifting.
type cursor struct {
	Sort string `json:"s"`
	Key  int64  `json:"k"`
	ID   uint   `json:"id"`
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

func decodeCursor(s, wantSort string) (cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, apperr.Invalid("corrupt cursor")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, apperr.Invalid("corrupt cursor")
	}
	if c.Sort != wantSort {
		return cursor{}, apperr.Invalid("cursor belongs to a different sort")
	}
	return c, nil
}
