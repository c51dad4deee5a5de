package session

import "github.com/goccy/go-json"

// peekJSON decodes just enough of a frame to route it — the same
// envelope-peek-then-typed-unmarshal pattern the teacher's
// dispatchMessage uses, kept on goccy/go-json for consistency with
// internal/venue's hot-path decode.
func peekJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
