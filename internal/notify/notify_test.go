package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookArticlePublished(t *testing.T) {
	var got struct {
		Event   string `json:"event"`
		Article Event  `json:"article"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.ArticlePublished(context.Background(), Event{ArticleID: 3, Slug: "s", Title: "T", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "article.published", got.Event)
	assert.Equal(t, int64(3), got.Article.ArticleID)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).ArticlePublished(context.Background(), Event{})
	assert.Error(t, err)
}

func TestNewWebhookEmptyURL(t *testing.T) {
	assert.Nil(t, NewWebhook(""))
}
