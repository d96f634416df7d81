package models

// Committee is an organizational sub-group. Token is the canonical lookup key,
// normalized once when the row is loaded.
type Committee struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}
