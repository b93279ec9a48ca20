package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linkstash/linkstash/internal/errors"
)

// LinkBuilder turns RawLink input into canonical LinkRecords.
// Zero value is usable; NewID and Now are replaceable for tests.
type LinkBuilder struct {
	NewID func() string
	Now   func() time.Time
}

// Build validates raw and fills every default. It has no side effects.
func (b LinkBuilder) Build(raw RawLink) (LinkRecord, error) {
	url := strings.TrimSpace(raw.URL)
	if url == "" {
		return LinkRecord{}, &errors.ErrInvalidLink{Reason: "url is required"}
	}

	newID := b.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	now := b.Now
	if now == nil {
		now = time.Now
	}

	linkType := strings.TrimSpace(raw.Type)
	if linkType == "" {
		linkType = LinkTypeOther
	}

	var preview *string
	if img := strings.TrimSpace(raw.PreviewImageURL); img != "" {
		preview = &img
	}

	tags := make([]Tag, 0, len(raw.Tags))
	for _, t := range raw.Tags {
		if name := strings.TrimSpace(t.Name); name != "" {
			tags = append(tags, Tag{Name: name})
		}
	}

	return LinkRecord{
		ID:              newID(),
		URL:             url,
		Title:           raw.Title,
		Description:     raw.Description,
		PreviewImageURL: preview,
		Type:            linkType,
		CreatedAt:       now().UnixMilli(),
		Tags:            tags,
	}, nil
}
