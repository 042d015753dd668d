package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
)

func readResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to read response body: %v", err)).Append(flawP)
		}
	}
	return respBody, nil
}

func ReadResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := readResponseBody(ctx, resp)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, flaw.From(errors.New("unexpected empty response body"))
		}
		return nil, err
	}
	return respBody, nil
}

// FileNameFromContentDisposition extracts the filename parameter of the
// response Content-Disposition header. RFC 2231 encoded names come back
// decoded. The second return value reports whether a name was present.
func FileNameFromContentDisposition(resp *http.Response) (string, bool) {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return "", false
	}

	_, params, err := mime.ParseMediaType(cd)
	if nil != err {
		return "", false
	}

	name, ok := params["filename"]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
