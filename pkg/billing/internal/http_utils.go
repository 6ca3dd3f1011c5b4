package internal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrPayloadTooLarge is returned when the request body exceeds the size limit
var ErrPayloadTooLarge = errors.New("payload too large")

// ReadBodyStrict reads the request body and validates it's not empty.
// Enforces a size limit to prevent memory exhaustion.
func ReadBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	body, err := io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}
