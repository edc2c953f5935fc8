package domain

import (
	"strings"
	"time"
)

type Ad struct {
	ID           int64     `json:"id"`
	SellerName   string    `json:"seller_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	AdTitle      string    `json:"ad_title"`
	AdText       string    `json:"ad_text"`
	Price        string    `json:"price"`
	ImageKey     *string   `json:"image_key"`
	ThumbnailKey *string   `json:"thumbnail_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdSummary is the list projection of an Ad. Full detail is only served by id.
type AdSummary struct {
	ID           int64   `json:"id"`
	AdTitle      string  `json:"ad_title"`
	Price        string  `json:"price"`
	SellerName   string  `json:"seller_name"`
	ImageKey     *string `json:"image_key"`
	ThumbnailKey *string `json:"thumbnail_key"`
}

// AdFields holds the client-editable columns of an Ad.
type AdFields struct {
	SellerName string
	Email      string
	Phone      string
	AdTitle    string
	AdText     string
	Price      string
}

// Normalize returns a copy with surrounding whitespace removed from every field.
func (f AdFields) Normalize() AdFields {
	return AdFields{
		SellerName: strings.TrimSpace(f.SellerName),
		Email:      strings.TrimSpace(f.Email),
		Phone:      strings.TrimSpace(f.Phone),
		AdTitle:    strings.TrimSpace(f.AdTitle),
		AdText:     strings.TrimSpace(f.AdText),
		Price:      strings.TrimSpace(f.Price),
	}
}

// Attachment is an uploaded image that has not been stored yet.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type DeletionResult struct {
	ID           int64
	AffectedRows int64
	// OrphanedKeys lists objects that could not be removed after the row was deleted.
	OrphanedKeys []string
	CleanupErr   error
}
