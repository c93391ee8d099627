package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Reader proxies authenticated GET reads straight through to upstream,
// sharing the vault and HTTP client the write executor uses so both paths
// apply identical credential-refresh semantics.
type Reader struct {
	exec *Executor
}

func NewReader(e *Executor) *Reader {
	return &Reader{exec: e}
}

// Read issues GET {base}{path} against service/account, with any query
// string already embedded in path. It never returns a non-nil error for
// upstream failures — those surface as an ordinary non-2xx status — only
// for local failures (unknown service, broken request construction).
func (r *Reader) Read(ctx context.Context, service, account, path string) (status int, contentType string, body []byte, err error) {
	base, ok := ServiceBase(service)
	if !ok {
		return 0, "", nil, fmt.Errorf("unknown service %q", service)
	}
	if base == "" {
		base = r.exec.vault.BaseOverride(ctx, service, account)
	}

	headerName, headerValue, err := r.exec.vault.Authorize(ctx, service, account)
	if err != nil {
		return http.StatusUnauthorized, "application/json", []byte(fmt.Sprintf(`{"error":%q}`, err.Error())), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return 0, "", nil, err
	}
	httpReq.Header.Set(headerName, headerValue)

	resp, err := r.exec.client.Do(httpReq)
	if err != nil {
		return http.StatusBadGateway, "application/json", []byte(fmt.Sprintf(`{"error":"upstream request failed: %s"}`, err.Error())), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, err
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), raw, nil
}
