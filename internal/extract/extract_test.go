package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const articlePage = `<!doctype html>
<html><head><title>News</title><style>body{color:red}</style></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
  <h1>Rain   expected</h1>
  <p>Forecasters say   heavy rain will arrive on Tuesday.</p>
  <script>track()</script>
  <p>Residents are advised to stay indoors.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestExtract(t *testing.T) {
	c := NewClient(Config{}, zap.NewNop())

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{
			name: "article preferred",
			raw:  articlePage,
			want: "Rain expected\nForecasters say heavy rain will arrive on Tuesday.\nResidents are advised to stay indoors.",
		},
		{
			name: "main element",
			raw:  `<html><body><header>Site</header><main><p>Body text</p></main></body></html>`,
			want: "Body text",
		},
		{
			name: "whole body fallback",
			raw:  `<html><body><div>one</div><div>two</div></body></html>`,
			want: "one\ntwo",
		},
		{
			name:    "script only",
			raw:     `<html><body><script>alert(1)</script></body></html>`,
			wantErr: ErrNoText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Extract(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(articlePage))
		case "/large":
			for i := 0; i < 100; i++ {
				w.Write([]byte("0123456789"))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(Config{MaxBody: 50}, zap.NewNop())
	ctx := context.Background()

	body, err := c.Fetch(ctx, server.URL+"/ok")
	require.NoError(t, err)
	assert.Len(t, body, 50)

	body, err = c.Fetch(ctx, server.URL+"/large")
	require.NoError(t, err)
	assert.Len(t, body, 50)

	_, err = c.Fetch(ctx, server.URL+"/missing")
	assert.Error(t, err)

	_, err = c.Fetch(ctx, "http://127.0.0.1:1/unreachable")
	assert.Error(t, err)
}
