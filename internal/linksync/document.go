package linksync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/linkstash/linkstash/internal/models"
)

// Document is the remote links file: a JSON array whose entries are kept
// as raw JSON so fields this client does not know about survive a rewrite.
type Document struct {
	SHA     string
	Entries []json.RawMessage
}

// ParseDocument decodes a links file. Empty content is an empty array.
func ParseDocument(content []byte, sha string) (*Document, error) {
	doc := &Document{SHA: sha, Entries: []json.RawMessage{}}
	if len(bytes.TrimSpace(content)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(content, &doc.Entries); err != nil {
		return nil, fmt.Errorf("links document is not a JSON array: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = []json.RawMessage{}
	}
	return doc, nil
}

// Append adds rec at the end of the array.
func (d *Document) Append(rec models.LinkRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	d.Entries = append(d.Entries, raw)
	return nil
}

// Records decodes every entry, skipping ones that are not link objects.
func (d *Document) Records() []models.LinkRecord {
	out := make([]models.LinkRecord, 0, len(d.Entries))
	for _, raw := range d.Entries {
		var rec models.LinkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Marshal renders the array with two-space indentation.
func (d *Document) Marshal() ([]byte, error) {
	entries := d.Entries
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return json.MarshalIndent(entries, "", "  ")
}
