package template

import (
	"encoding/base64"
	"fmt"

	"github.com/tidwall/gjson"
)

// Attachment mirrors the data model's Attachment record.
type Attachment struct {
	Data        []byte
	MimeType    string
	Filename    string
	Description string
}

// AttachmentConfig names the array key holding attachment objects and the
// per-field keys within each object. Defaults match spec: data, mimeType,
// filename, description.
type AttachmentConfig struct {
	ArrayKey    string
	DataKey     string
	MimeTypeKey string
	FilenameKey string
	DescKey     string
}

// WithDefaults fills unset field-key names with their documented defaults.
func (c AttachmentConfig) WithDefaults() AttachmentConfig {
	if c.DataKey == "" {
		c.DataKey = "data"
	}
	if c.MimeTypeKey == "" {
		c.MimeTypeKey = "mimeType"
	}
	if c.FilenameKey == "" {
		c.FilenameKey = "filename"
	}
	if c.DescKey == "" {
		c.DescKey = "description"
	}
	return c
}

// ExtractAttachments walks to cfg.ArrayKey within data and produces one
// Attachment per array element. Elements missing the data field are
// skipped rather than aborting the whole extraction.
func ExtractAttachments(data []byte, cfg AttachmentConfig) ([]Attachment, error) {
	cfg = cfg.WithDefaults()
	if cfg.ArrayKey == "" {
		return nil, nil
	}

	arr := gjson.GetBytes(data, cfg.ArrayKey)
	if !arr.Exists() {
		return nil, nil
	}
	if !arr.IsArray() {
		return nil, fmt.Errorf("template: attachments key %q is not an array", cfg.ArrayKey)
	}

	var out []Attachment
	for _, item := range arr.Array() {
		raw := item.Get(cfg.DataKey)
		if !raw.Exists() || raw.String() == "" {
			continue
		}

		payload, err := decodeAttachmentData(raw.String())
		if err != nil {
			return nil, fmt.Errorf("template: decode attachment data: %w", err)
		}

		out = append(out, Attachment{
			Data:        payload,
			MimeType:    item.Get(cfg.MimeTypeKey).String(),
			Filename:    item.Get(cfg.FilenameKey).String(),
			Description: item.Get(cfg.DescKey).String(),
		})
	}

	return out, nil
}

func decodeAttachmentData(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	// Not valid base64: treat as plain bytes (spec allows either form).
	return []byte(s), nil
}
