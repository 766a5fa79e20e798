package server

import (
	"crypto/subtle"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/dispatch"
)

// requireSecret runs before any body is read. Every mismatch gets the same response.
func (s *Server) requireSecret(c *gin.Context) {
	got := c.GetHeader(dispatch.SecretHeader)
	if s.opts.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Secret)) != 1 {
		abort(c, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	c.Next()
}

type startRequest struct {
	Topic   string `json:"topic"`
	Model   string `json:"model"`
	Publish bool   `json:"publish"`
}

type jobRequest struct {
	JobID string `json:"jobId"`
}

type postRequest struct {
	PostID int64 `json:"postId"`
}

func (s *Server) handlePhase(c *gin.Context) {
	switch phase := c.Param("phase"); phase {
	case "start":
		var req startRequest
		if !s.bind(c, &req) {
			return
		}
		res, err := s.phases.Start(c.Request.Context(), req.Topic, req.Model, req.Publish)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, res)

	case "status":
		var req jobRequest
		if !s.bind(c, &req) {
			return
		}
		res, err := s.phases.Status(c.Request.Context(), req.JobID)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)

	case "images":
		var req postRequest
		if !s.bindPost(c, &req) {
			return
		}
		res, err := s.phases.Images(c.Request.Context(), req.PostID)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)

	case "publish":
		var req postRequest
		if !s.bindPost(c, &req) {
			return
		}
		res, err := s.phases.Publish(c.Request.Context(), req.PostID)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)

	default:
		abort(c, http.StatusBadRequest, "unknown phase", phase)
	}
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, http.StatusBadRequest, "invalid body", err.Error())
		return false
	}
	return true
}

func (s *Server) bindPost(c *gin.Context, req *postRequest) bool {
	if !s.bind(c, req) {
		return false
	}
	if req.PostID <= 0 {
		abort(c, http.StatusBadRequest, "invalid body", "postId is required")
		return false
	}
	return true
}

// handleExecutorRun acknowledges immediately. The job outlives the request.
func (s *Server) handleExecutorRun(c *gin.Context) {
	var req jobRequest
	if !s.bind(c, &req) {
		return
	}
	if req.JobID == "" {
		abort(c, http.StatusBadRequest, "invalid body", "jobId is required")
		return
	}
	if s.runner == nil {
		abort(c, http.StatusServiceUnavailable, "executor unavailable", "")
		return
	}

	s.runner.Submit(c.Request.Context(), req.JobID)
	c.JSON(http.StatusAccepted, gin.H{"jobId": req.JobID, "accepted": true})
}

type articleResponse struct {
	ID              int64      `json:"id"`
	Slug            string     `json:"slug"`
	Language        string     `json:"language"`
	Title           string     `json:"title"`
	Excerpt         string     `json:"excerpt"`
	Content         string     `json:"content"`
	MetaTitle       string     `json:"metaTitle"`
	MetaDescription string     `json:"metaDescription"`
	Category        string     `json:"category"`
	Tags            []string   `json:"tags"`
	FeaturedImage   *string    `json:"featuredImage"`
	PublishedAt     *time.Time `json:"publishedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toArticleResponse(a *database.Article) articleResponse {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return articleResponse{
		ID:              a.ID,
		Slug:            a.Slug,
		Language:        a.Language,
		Title:           a.Title,
		Excerpt:         a.Excerpt,
		Content:         a.Content,
		MetaTitle:       a.MetaTitle,
		MetaDescription: a.MetaDescription,
		Category:        string(a.Category),
		Tags:            tags,
		FeaturedImage:   a.FeaturedImage,
		PublishedAt:     a.PublishedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// handleArticle falls back to the default language when the translation is missing.
func (s *Server) handleArticle(c *gin.Context) {
	lang, slug := c.Param("lang"), c.Param("slug")
	ctx := c.Request.Context()

	article, err := s.reader.GetPublishedArticle(ctx, lang, slug)
	if errors.Is(err, database.ErrNotFound) && lang != s.opts.DefaultLanguage {
		article, err = s.reader.GetPublishedArticle(ctx, s.opts.DefaultLanguage, slug)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toArticleResponse(article))
}

type articleSummary struct {
	Slug          string     `json:"slug"`
	Language      string     `json:"language"`
	Title         string     `json:"title"`
	Excerpt       string     `json:"excerpt"`
	Category      string     `json:"category"`
	FeaturedImage *string    `json:"featuredImage"`
	PublishedAt   *time.Time `json:"publishedAt"`
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// handleArticleList lists published articles in one language, newest first.
func (s *Server) handleArticleList(c *gin.Context) {
	filter := database.ArticleFilter{
		Language:      c.Param("lang"),
		PublishedOnly: true,
		Limit:         defaultListLimit,
	}
	if raw := c.Query("category"); raw != "" {
		category := database.Category(raw)
		if !category.Valid() {
			abort(c, http.StatusBadRequest, "invalid request", "unknown category "+raw)
			return
		}
		filter.Category = category
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || limit == 0 {
			abort(c, http.StatusBadRequest, "invalid request", "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	articles, err := s.reader.ListArticles(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]articleSummary, 0, len(articles))
	for _, a := range articles {
		out = append(out, articleSummary{
			Slug:          a.Slug,
			Language:      a.Language,
			Title:         a.Title,
			Excerpt:       a.Excerpt,
			Category:      string(a.Category),
			FeaturedImage: a.FeaturedImage,
			PublishedAt:   a.PublishedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"articles": out})
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

func (s *Server) handleSitemap(c *gin.Context) {
	entries, err := s.reader.ListSitemapEntries(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	set := urlSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9", URLs: make([]sitemapURL, 0, len(entries))}
	for _, e := range entries {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:     fmt.Sprintf("%s/%s/%s", s.opts.BaseURL, e.Language, e.Slug),
			LastMod: e.UpdatedAt.UTC().Format("2006-01-02"),
		})
	}

	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", append([]byte(xml.Header), body...))
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.reader.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
