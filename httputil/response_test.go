package httputil_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iamrita-ai/Terabox-Drive/httputil"
)

func TestFileNameFromContentDisposition(t *testing.T) {
	t.Parallel()

	respWith := func(cd string) *http.Response {
		header := http.Header{}
		if cd != "" {
			header.Set("Content-Disposition", cd)
		}
		//nolint:exhaustruct
		return &http.Response{Header: header}
	}

	t.Run("Quoted", func(t *testing.T) {
		t.Parallel()
		name, ok := httputil.FileNameFromContentDisposition(respWith(`attachment; filename="report final.pdf"`))
		assert.True(t, ok)
		assert.Equal(t, "report final.pdf", name)
	})

	t.Run("Unquoted", func(t *testing.T) {
		t.Parallel()
		name, ok := httputil.FileNameFromContentDisposition(respWith(`attachment; filename=movie.mkv`))
		assert.True(t, ok)
		assert.Equal(t, "movie.mkv", name)
	})

	t.Run("Encoded", func(t *testing.T) {
		t.Parallel()
		name, ok := httputil.FileNameFromContentDisposition(respWith(`attachment; filename*=UTF-8''%D9%81%DB%8C%D9%84%D9%85.mp4`))
		assert.True(t, ok)
		assert.Equal(t, "فیلم.mp4", name)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		t.Parallel()
		name, ok := httputil.FileNameFromContentDisposition(respWith(""))
		assert.False(t, ok)
		assert.Empty(t, name)
	})

	t.Run("NoFileNameParam", func(t *testing.T) {
		t.Parallel()
		name, ok := httputil.FileNameFromContentDisposition(respWith("inline"))
		assert.False(t, ok)
		assert.Empty(t, name)
	})
}
