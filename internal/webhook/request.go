package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/config"
	"github.com/feathermark/crosspost/internal/provider"
	"github.com/feathermark/crosspost/internal/template"
)

// incomingRequest mirrors the recognized webhook request body fields.
type incomingRequest struct {
	Provider           string          `json:"provider"`
	Message            string          `json:"message"`
	Template           string          `json:"template"`
	TemplateName       string          `json:"templateName"`
	JSON               json.RawMessage `json:"json"`
	UniqueKey          string          `json:"uniqueKey"`
	Accounts           []string        `json:"accounts"`
	Visibility         string          `json:"visibility"`
	Metadata           json.RawMessage `json:"metadata"`
	AttachmentsKey     string          `json:"attachmentsKey"`
	AttachmentDataKey  string          `json:"attachmentDataKey"`
	MimeTypeKey        string          `json:"mimeTypeKey"`
	FilenameKey        string          `json:"filenameKey"`
	DescriptionKey     string          `json:"descriptionKey"`
}

// parseRequest decodes and shape-validates the raw webhook body.
func parseRequest(body []byte) (incomingRequest, error) {
	var req incomingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return incomingRequest{}, fmt.Errorf("malformed json body: %w", err)
	}
	return req, nil
}

func (req incomingRequest) attachmentConfig() template.AttachmentConfig {
	return template.AttachmentConfig{
		ArrayKey:    req.AttachmentsKey,
		DataKey:     req.AttachmentDataKey,
		MimeTypeKey: req.MimeTypeKey,
		FilenameKey: req.FilenameKey,
		DescKey:     req.DescriptionKey,
	}
}

// resolveTemplate picks the template string by priority: inline template,
// named template from the provider's templates map, provider default.
func resolveTemplate(req incomingRequest, cfg config.Provider) (string, bool) {
	if req.Template != "" {
		return req.Template, true
	}
	if req.TemplateName != "" {
		if tmpl, ok := cfg.Templates[req.TemplateName]; ok {
			return tmpl, true
		}
		return "", false
	}
	if cfg.Template != "" {
		return cfg.Template, true
	}
	return "", false
}

// buildMessages produces 1..N provider.Message values from a validated
// request, per spec §4.7 step 10.
func buildMessages(req incomingRequest, cfg config.Provider) ([]provider.Message, error) {
	tmpl, hasTemplate := resolveTemplate(req, cfg)

	if hasTemplate && len(req.JSON) > 0 {
		return buildFromTemplate(req, cfg, tmpl)
	}

	if req.Message != "" {
		return []provider.Message{{Text: req.Message}}, nil
	}

	return nil, fmt.Errorf("webhook: no template resolved and no literal message supplied")
}

func buildFromTemplate(req incomingRequest, cfg config.Provider, tmpl string) ([]provider.Message, error) {
	var probe any
	if err := json.Unmarshal(req.JSON, &probe); err != nil {
		return nil, fmt.Errorf("webhook: invalid json field: %w", err)
	}

	attachCfg := req.attachmentConfig()

	switch v := probe.(type) {
	case []any:
		messages := make([]provider.Message, 0, len(v))
		for i, item := range v {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("webhook: re-marshal json element %d: %w", i, err)
			}
			text, err := template.Render(tmpl, raw, false)
			if err != nil {
				return nil, fmt.Errorf("webhook: render element %d: %w", i, err)
			}
			attachments, err := extractAttachments(raw, attachCfg)
			if err != nil {
				return nil, fmt.Errorf("webhook: extract attachments element %d: %w", i, err)
			}
			messages = append(messages, provider.Message{Text: text, Attachments: attachments})
		}
		return messages, nil
	default:
		text, err := template.Render(tmpl, req.JSON, false)
		if err != nil {
			return nil, fmt.Errorf("webhook: render: %w", err)
		}
		attachments, err := extractAttachments(req.JSON, attachCfg)
		if err != nil {
			return nil, fmt.Errorf("webhook: extract attachments: %w", err)
		}
		return []provider.Message{{Text: text, Attachments: attachments}}, nil
	}
}

func extractAttachments(raw []byte, cfg template.AttachmentConfig) ([]account.Attachment, error) {
	if cfg.ArrayKey == "" {
		return nil, nil
	}
	extracted, err := template.ExtractAttachments(raw, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]account.Attachment, 0, len(extracted))
	for _, a := range extracted {
		out = append(out, account.Attachment{
			Data:        a.Data,
			MimeType:    a.MimeType,
			Filename:    a.Filename,
			Description: a.Description,
		})
	}
	return out, nil
}

func parseVisibility(s string) account.Visibility {
	switch s {
	case "public", "unlisted", "private", "direct":
		return account.Visibility(s)
	default:
		return ""
	}
}
