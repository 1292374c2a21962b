package provider

import (
	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/template"
)

func toAccountAttachments(in []template.Attachment) []account.Attachment {
	out := make([]account.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, account.Attachment{
			Data:        a.Data,
			MimeType:    a.MimeType,
			Filename:    a.Filename,
			Description: a.Description,
		})
	}
	return out
}
