package kartra

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLooksNotFound(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		contents string
		expect   bool
	}{
		{name: "status", status: http.StatusNotFound, contents: "", expect: true},
		{name: "title", status: http.StatusOK, contents: notFoundHtml, expect: true},
		{name: "marker", status: http.StatusOK, contents: "<html><head><title>Oops, this page doesn't exist</title></head></html>", expect: true},
		{name: "body class", status: http.StatusOK, contents: `<html><body><div class="error-404">gone</div></body></html>`, expect: true},
		{name: "lesson", status: http.StatusOK, contents: postHtml("Lesson", "Category A", "Sub B", ""), expect: false},
		{
			name:     "latin-1 bytes",
			status:   http.StatusOK,
			contents: "<html><head><meta content=\"caf\xe9 cr\xe8me br\xfbl\xe9e\"><title>Lesson</title></head><body>\xc0 la carte</body></html>",
			expect:   false,
		},
		{
			name:     "latin-1 not found",
			status:   http.StatusOK,
			contents: "<html><head><meta content=\"caf\xe9\"><title>Page Not Found \xe9</title></head></html>",
			expect:   true,
		},
		{name: "unterminated title", status: http.StatusOK, contents: "<title>\xff\xfe", expect: false},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				require.Equal(t, test.expect, looksNotFound(test.status, []byte(test.contents)))
			})
		})
	}
}
