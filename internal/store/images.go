package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Image is a cached image blob.
type Image struct {
	Key         string
	URL         string
	ContentType string
	Data        []byte
}

// PutImage stores an image under its content-addressed key.
// Uses ON CONFLICT(key) DO NOTHING: a key is derived from its URL, so an
// existing row already holds the same image.
func (s *Store) PutImage(ctx context.Context, img Image) error {
	if img.Key == "" {
		return errors.New("put image: empty key")
	}
	if img.Data == nil {
		img.Data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (key, url, content_type, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, img.Key, img.URL, img.ContentType, img.Data)
	if err != nil {
		return fmt.Errorf("put image: %w", err)
	}
	return nil
}

// GetImage returns the cached image for key.
// Returns ErrNotFound if the key is not cached.
func (s *Store) GetImage(ctx context.Context, key string) (Image, error) {
	img := Image{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT url, content_type, data FROM images WHERE key = ?
	`, key).Scan(&img.URL, &img.ContentType, &img.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

// HasImage reports whether key is cached.
func (s *Store) HasImage(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM images WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has image: %w", err)
	}
	return true, nil
}

// CountImages returns the number of cached images.
func (s *Store) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}
