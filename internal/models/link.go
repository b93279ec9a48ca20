package models

import (
	"encoding/json"
	"strings"
)

// LinkTypeOther is the type assigned when the caller supplies none.
const LinkTypeOther = "OTHER"

// Tag is a single label attached to a link.
type Tag struct {
	Name string `json:"name"`
}

// LinkRecord is one entry of the remote links document. Field names follow
// the camelCase layout shared with the mobile client.
type LinkRecord struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	PreviewImageURL *string `json:"previewImageUrl"`
	Type            string  `json:"type"`
	CreatedAt       int64   `json:"createdAt"`
	ReminderTime    *int64  `json:"reminderTime"`
	IsArchived      bool    `json:"isArchived"`
	IsFavorite      bool    `json:"isFavorite"`
	IsCompleted     bool    `json:"isCompleted"`
	CompletedAt     *int64  `json:"completedAt"`
	Notes           *string `json:"notes"`
	LastSyncedAt    *int64  `json:"lastSyncedAt"`
	SyncError       *string `json:"syncError"`
	ScrollPosition  int     `json:"scrollPosition"`
	Tags            []Tag   `json:"tags"`
}

// TagNames returns the tag names in order.
func (r LinkRecord) TagNames() []string {
	names := make([]string, 0, len(r.Tags))
	for _, t := range r.Tags {
		names = append(names, t.Name)
	}
	return names
}

// RawLink is link input as produced by a UI or page extraction.
type RawLink struct {
	URL             string `json:"url"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	PreviewImageURL string `json:"previewImageUrl,omitempty"`
	Type            string `json:"type,omitempty"`
	Tags            []Tag  `json:"tags,omitempty"`
}

// UnmarshalJSON accepts tags either as [{"name": "x"}] or as plain strings.
func (r *RawLink) UnmarshalJSON(data []byte) error {
	type alias RawLink
	var aux struct {
		alias
		Tags []json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RawLink(aux.alias)
	r.Tags = nil
	for _, raw := range aux.Tags {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			r.Tags = append(r.Tags, Tag{Name: name})
			continue
		}
		var tag Tag
		if err := json.Unmarshal(raw, &tag); err != nil {
			return err
		}
		r.Tags = append(r.Tags, tag)
	}
	return nil
}

// PageInfo is metadata extracted from a web page.
type PageInfo struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	PreviewImageURL string `json:"previewImageUrl,omitempty"`
	Type            string `json:"type"`
}

// RawLink converts page metadata into builder input.
func (p PageInfo) RawLink() RawLink {
	return RawLink{
		URL:             p.URL,
		Title:           p.Title,
		Description:     p.Description,
		PreviewImageURL: p.PreviewImageURL,
		Type:            p.Type,
	}
}

// ParseTags splits a comma separated list into tags, trimming
// whitespace and dropping empty entries.
func ParseTags(s string) []Tag {
	tags := []Tag{}
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		tags = append(tags, Tag{Name: name})
	}
	return tags
}
