package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const articleColumns = `id, slug, language, title, excerpt, content, meta_title, meta_description,
	category, tags, featured_image, generation_model, generation_prompt, source_context,
	published, published_at, created_at, updated_at`

// InsertArticle stores a new article. A slug already taken in the same
// language gets a numeric suffix; the stored slug is written back to a.
func (db *DB) InsertArticle(ctx context.Context, a *Article) (int64, error) {
	if a.Tags == nil {
		a.Tags = []string{}
	}
	tags, err := encodeJSON(a.Tags)
	if err != nil {
		return 0, fmt.Errorf("encoding tags: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin article insert: %w", err)
	}
	defer tx.Rollback()

	slug, err := uniqueSlug(ctx, tx, a.Language, a.Slug)
	if err != nil {
		return 0, err
	}

	now := db.now().UTC()
	var publishedAt *string
	if a.Published {
		s := formatTime(now)
		publishedAt = &s
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO articles (slug, language, title, excerpt, content, meta_title, meta_description,
		category, tags, featured_image, generation_model, generation_prompt, source_context,
		published, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		slug, a.Language, a.Title, a.Excerpt, a.Content, a.MetaTitle, a.MetaDescription,
		string(a.Category), tags, a.FeaturedImage, a.GenerationModel, a.GenerationPrompt, a.SourceContext,
		a.Published, publishedAt, formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting article: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit article insert: %w", err)
	}

	a.ID = id
	a.Slug = slug
	a.CreatedAt = now
	a.UpdatedAt = now
	a.PublishedAt = parseTimePtr(publishedAt)
	return id, nil
}

func uniqueSlug(ctx context.Context, tx *sql.Tx, language, base string) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		var count int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM articles WHERE language = ? AND slug = ?", language, candidate,
		).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("checking slug: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// GetArticleByID returns a single article, or ErrNotFound.
func (db *DB) GetArticleByID(ctx context.Context, id int64) (*Article, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+articleColumns+" FROM articles WHERE id = ?", id)
	return scanOneArticle(row)
}

// GetPublishedArticle returns the published article for a language and slug, or ErrNotFound.
func (db *DB) GetPublishedArticle(ctx context.Context, language, slug string) (*Article, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+articleColumns+" FROM articles WHERE language = ? AND slug = ? AND published = 1",
		language, slug,
	)
	return scanOneArticle(row)
}

// SetFeaturedImage attaches an image reference to an article that has none.
// It returns false when another caller attached one first.
func (db *DB) SetFeaturedImage(ctx context.Context, id int64, ref string) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE articles SET featured_image = ?, updated_at = ? WHERE id = ? AND featured_image IS NULL",
		ref, formatTime(db.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("updating featured image: %w", err)
	}
	ok, err := affected(result)
	if err != nil || ok {
		return ok, err
	}

	var exists int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles WHERE id = ?", id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// PublishArticle marks an article published. It returns false when the
// article was already published, in which case nothing is written.
func (db *DB) PublishArticle(ctx context.Context, id int64) (bool, error) {
	now := formatTime(db.now())
	result, err := db.conn.ExecContext(ctx,
		`UPDATE articles SET published = 1, published_at = ?, updated_at = ?
		WHERE id = ? AND published = 0`,
		now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("publishing article: %w", err)
	}
	changed, err := affected(result)
	if err != nil {
		return false, err
	}
	if changed {
		return true, nil
	}

	var exists int
	err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// ArticleFilter narrows ListArticles.
type ArticleFilter struct {
	Language      string
	Category      Category
	PublishedOnly bool
	Limit         uint64
}

// ListArticles returns articles matching the filter, newest first.
func (db *DB) ListArticles(ctx context.Context, f ArticleFilter) ([]Article, error) {
	q := sq.Select(articleColumns).From("articles").OrderBy("created_at DESC", "id DESC")
	if f.Language != "" {
		q = q.Where(sq.Eq{"language": f.Language})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": string(f.Category)})
	}
	if f.PublishedOnly {
		q = q.Where(sq.Eq{"published": 1})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building article query: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// ListSitemapEntries returns every published (language, slug) pair.
func (db *DB) ListSitemapEntries(ctx context.Context) ([]SitemapEntry, error) {
	query, args, err := sq.Select("language", "slug", "updated_at").
		From("articles").
		Where(sq.Eq{"published": 1}).
		OrderBy("language", "slug").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SitemapEntry
	for rows.Next() {
		var e SitemapEntry
		var updated string
		if err := rows.Scan(&e.Language, &e.Slug, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt = parseTime(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanOneArticle(row *sql.Row) (*Article, error) {
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanArticle(s scanner) (*Article, error) {
	var a Article
	var category, tags, createdAt, updatedAt string
	var publishedAt *string
	err := s.Scan(&a.ID, &a.Slug, &a.Language, &a.Title, &a.Excerpt, &a.Content,
		&a.MetaTitle, &a.MetaDescription, &category, &tags, &a.FeaturedImage,
		&a.GenerationModel, &a.GenerationPrompt, &a.SourceContext,
		&a.Published, &publishedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Category = Category(category)
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		a.Tags = []string{}
	}
	a.PublishedAt = parseTimePtr(publishedAt)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}
