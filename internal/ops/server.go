package ops

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds a single request line. Plans carry full task
// lists, so this is well above any document the store would accept.
const maxLineBytes = 8 << 20

// Serve reads one JSON request per line from r and writes one JSON
// response per line to w, until r is exhausted or ctx is cancelled.
// Blank lines are skipped. Unparseable lines produce a BAD_REQUEST
// response rather than ending the session.
func Serve(ctx context.Context, reg *Registry, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = Response{Error: &OpError{
				Code:    CodeBadRequest,
				Message: fmt.Sprintf("decoding request: %v", err),
			}}
		} else {
			resp = reg.Call(ctx, req)
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}
