package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/errgroup"

	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/httputil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
	"github.com/iamrita-ai/Terabox-Drive/mathutil"
	"github.com/iamrita-ai/Terabox-Drive/must"
	"github.com/iamrita-ai/Terabox-Drive/ratelimit"
)

const (
	downloadChunkSize     = 64 << 10
	downloadPartSize      = 4 << 20
	maxBatchParts         = 8
	rangedDownloadMinSize = 32 << 20
)

func (c *Client) fetch(ctx context.Context, resolved leech.ResolvedLink, dir leech.UserDir, onProgress Progress) (filePath string, err error) {
	flawP := flaw.P{"url": resolved.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.URL, nil)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to create download request: %v", err)).Append(flawP)
	}
	req.Header.Set("User-Agent", userAgent)

	client := http.Client{Timeout: config.DirectDownloadRequestTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return "", ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return "", context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return "", flaw.From(fmt.Errorf("failed to send download request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			switch {
			case errutil.IsContext(ctx):
				err = errors.Join(err, ctx.Err())
			case errors.Is(closeErr, context.DeadlineExceeded):
				err = errors.Join(err, context.DeadlineExceeded)
			default:
				flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
				closeErr = flaw.From(fmt.Errorf("failed to close download response body: %v", closeErr)).Append(flawP)
				err = errors.Join(err, closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch status := resp.StatusCode; status {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return "", ErrTooManyRequests
	case http.StatusNotFound, http.StatusGone:
		return "", flaw.From(errors.New("file does not exist anymore")).Append(flawP)
	default:
		return "", flaw.From(fmt.Errorf("unexpected download response status code: %d", status)).Append(flawP)
	}

	fileName := resolved.FileName
	if name, ok := httputil.FileNameFromContentDisposition(resp); ok {
		fileName = leech.SanitizeFileName(name)
	}
	if fileName == "" {
		fileName = leech.SanitizeFileName("")
	}

	totalSize := resolved.Size
	if resp.ContentLength > 0 {
		totalSize = resp.ContentLength
	}

	filePath = dir.UniqueFilePath(fileName)
	flawP["file_path"] = filePath

	if resp.Header.Get("Accept-Ranges") == "bytes" && resp.ContentLength >= rangedDownloadMinSize {
		finalURL := resolved.URL
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}
		c.logger.
			Debug().
			Int64("total_size", resp.ContentLength).
			Str("file_path", filePath).
			Msg("Server supports range requests, downloading in parts")
		if err := c.fetchRanged(ctx, finalURL, filePath, resp.ContentLength, onProgress); nil != err {
			return "", err
		}
		return filePath, nil
	}

	if err := saveBody(ctx, resp.Body, filePath, totalSize, onProgress); nil != err {
		return "", err
	}
	return filePath, nil
}

func saveBody(ctx context.Context, body io.Reader, filePath string, totalSize int64, onProgress Progress) (err error) {
	flawP := flaw.P{"file_path": filePath}

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create download file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close download file: %v", closeErr)).Append(flawP)
			err = errors.Join(err, closeErr)
		}
		if nil != err {
			if removeErr := os.Remove(filePath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				flawP["err_debug_tree"] = errutil.Tree(removeErr).FlawP()
				removeErr = flaw.From(fmt.Errorf("failed to remove incomplete download file: %v", removeErr)).Append(flawP)
				err = errors.Join(err, removeErr)
			}
		}
	}()

	var downloaded int64
	buf := make([]byte, downloadChunkSize)
	for {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); nil != writeErr {
				flawP["err_debug_tree"] = errutil.Tree(writeErr).FlawP()
				return flaw.From(fmt.Errorf("failed to write download file chunk: %v", writeErr)).Append(flawP)
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(downloaded, totalSize)
			}
		}
		if nil != readErr {
			if errors.Is(readErr, io.EOF) {
				break
			}
			switch {
			case errutil.IsContext(ctx):
				return ctx.Err()
			case errors.Is(readErr, context.DeadlineExceeded):
				return context.DeadlineExceeded
			default:
				flawP["err_debug_tree"] = errutil.Tree(readErr).FlawP()
				return flaw.From(fmt.Errorf("failed to read download response chunk: %v", readErr)).Append(flawP)
			}
		}
	}

	if err := f.Sync(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to sync download file: %v", err)).Append(flawP)
	}
	return nil
}

func (c *Client) fetchRanged(ctx context.Context, link, filePath string, totalSize int64, onProgress Progress) error {
	var (
		numParts   = mathutil.CeilInts(totalSize, downloadPartSize)
		numBatches = mathutil.CeilInts(numParts, maxBatchParts)
	)
	flawP := flaw.P{
		"url":         link,
		"file_path":   filePath,
		"total_size":  totalSize,
		"num_parts":   numParts,
		"num_batches": numBatches,
	}

	var downloaded atomic.Int64
	report := func(n int) {
		total := downloaded.Add(int64(n))
		if onProgress != nil {
			onProgress(total, totalSize)
		}
	}

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(ratelimit.BatchDownloadConcurrency)
	for i := range numBatches {
		wg.Go(func() error {
			if err := downloadBatch(wgCtx, link, filePath, i, totalSize, report); nil != err {
				switch {
				case errutil.IsContext(wgCtx):
					return wgCtx.Err()
				case errors.Is(err, context.DeadlineExceeded):
					return context.DeadlineExceeded
				case errors.Is(err, ErrTooManyRequests):
					return ErrTooManyRequests
				case errutil.IsFlaw(err):
					return must.BeFlaw(err).Append(flaw.P{"batch_index": i})
				default:
					panic(errutil.UnknownError(err))
				}
			}
			return nil
		})
	}
	if err := wg.Wait(); nil != err {
		for i := range numBatches {
			if removeErr := os.Remove(partFilePath(filePath, i)); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				c.logger.Error().Err(removeErr).Str("part_path", partFilePath(filePath, i)).Msg("Failed to remove batch part file")
			}
		}
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		case errors.Is(err, ErrTooManyRequests):
			return ErrTooManyRequests
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}

	return assembleParts(filePath, numBatches, flawP)
}

func partFilePath(filePath string, idx int64) string {
	return filePath + ".part." + strconv.FormatInt(idx, 10)
}

func downloadBatch(ctx context.Context, link, filePath string, idx, totalSize int64, report func(int)) (err error) {
	partPath := partFilePath(filePath, idx)
	flawP := flaw.P{"part_path": partPath, "batch_index": idx}

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0600)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create batch part file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close batch part file: %v", closeErr)).Append(flawP)
			err = errors.Join(err, closeErr)
		}
		if nil != err {
			if removeErr := os.Remove(partPath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				flawP["err_debug_tree"] = errutil.Tree(removeErr).FlawP()
				removeErr = flaw.From(fmt.Errorf("failed to remove incomplete batch part file: %v", removeErr)).Append(flawP)
				err = errors.Join(err, removeErr)
			}
		}
	}()

	batchStart := idx * maxBatchParts * downloadPartSize
	batchEnd := min(totalSize, (idx+1)*maxBatchParts*downloadPartSize)
	for start := batchStart; start < batchEnd; start += downloadPartSize {
		end := min(start+downloadPartSize, batchEnd) - 1
		if err := downloadRange(ctx, link, f, start, end, report); nil != err {
			switch {
			case errutil.IsContext(ctx):
				return ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return context.DeadlineExceeded
			case errors.Is(err, ErrTooManyRequests):
				return ErrTooManyRequests
			case errutil.IsFlaw(err):
				return must.BeFlaw(err).Append(flawP)
			default:
				panic(errutil.UnknownError(err))
			}
		}
	}
	return nil
}

func downloadRange(ctx context.Context, link string, f *os.File, start, end int64, report func(int)) (err error) {
	flawP := flaw.P{"start": start, "end": end}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create part download request: %v", err)).Append(flawP)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	client := http.Client{Timeout: config.RangedPartDownloadTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return flaw.From(fmt.Errorf("failed to send part download request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			switch {
			case errutil.IsContext(ctx):
				err = errors.Join(err, ctx.Err())
			case errors.Is(closeErr, context.DeadlineExceeded):
				err = errors.Join(err, context.DeadlineExceeded)
			default:
				flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
				closeErr = flaw.From(fmt.Errorf("failed to close part download response body: %v", closeErr)).Append(flawP)
				err = errors.Join(err, closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch status := resp.StatusCode; status {
	case http.StatusPartialContent:
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	case http.StatusOK:
		return flaw.From(errors.New("server ignored download range request")).Append(flawP)
	default:
		return flaw.From(fmt.Errorf("unexpected part download response status code: %d", status)).Append(flawP)
	}

	buf := make([]byte, downloadChunkSize)
	for {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); nil != writeErr {
				flawP["err_debug_tree"] = errutil.Tree(writeErr).FlawP()
				return flaw.From(fmt.Errorf("failed to write batch part file chunk: %v", writeErr)).Append(flawP)
			}
			report(n)
		}
		if nil != readErr {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			switch {
			case errutil.IsContext(ctx):
				return ctx.Err()
			case errors.Is(readErr, context.DeadlineExceeded):
				return context.DeadlineExceeded
			default:
				flawP["err_debug_tree"] = errutil.Tree(readErr).FlawP()
				return flaw.From(fmt.Errorf("failed to read part download response chunk: %v", readErr)).Append(flawP)
			}
		}
	}
}

func assembleParts(filePath string, numBatches int64, flawP flaw.P) (err error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create download file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close download file: %v", closeErr)).Append(flawP)
			err = errors.Join(err, closeErr)
		}
		if nil != err {
			if removeErr := os.Remove(filePath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				flawP["err_debug_tree"] = errutil.Tree(removeErr).FlawP()
				removeErr = flaw.From(fmt.Errorf("failed to remove incomplete download file: %v", removeErr)).Append(flawP)
				err = errors.Join(err, removeErr)
			}
		}
	}()

	for i := range numBatches {
		if err := writePartToFile(f, partFilePath(filePath, i)); nil != err {
			return err
		}
	}

	if err := f.Sync(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to sync download file: %v", err)).Append(flawP)
	}
	return nil
}

func writePartToFile(dst *os.File, partPath string) (err error) {
	flawP := flaw.P{"part_path": partPath}

	part, err := os.Open(partPath)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to open batch part file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := part.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close batch part file: %v", closeErr)).Append(flawP)
			err = errors.Join(err, closeErr)
		}
	}()

	if _, err := io.Copy(dst, part); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to append batch part file: %v", err)).Append(flawP)
	}

	if err := os.Remove(partPath); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to remove batch part file: %v", err)).Append(flawP)
	}
	return nil
}
