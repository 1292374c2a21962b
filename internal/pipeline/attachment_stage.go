package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/feathermark/crosspost/internal/account"
	glob "github.com/ryanuber/go-glob"
)

type attachmentAddOpts struct {
	Data        string `opt:"data"` // base64
	FilePath    string `opt:"file_path"`
	MimeType    string `opt:"mime_type"`
	Filename    string `opt:"filename"`
	Description string `opt:"description"`
}

type attachmentRemoveOpts struct {
	MimeTypeGlob string `opt:"mime_type_glob"`
	FilenameGlob string `opt:"filename_glob"`
	MaxSize      int    `opt:"max_size"`
	Indexes      []int  `opt:"indexes"`
}

type attachmentOpts struct {
	Action   string                `opt:"action"` // add|remove|validate
	Add      *attachmentAddOpts    `opt:"add"`
	Remove   *attachmentRemoveOpts `opt:"remove"`
	MaxCount int                   `opt:"max_count"`
	MaxSize  int                   `opt:"max_size"`
	AllowedMimeTypes []string      `opt:"allowed_mime_types"`
}

type attachmentStage struct {
	opts attachmentOpts
}

func init() {
	RegisterStageKind("attachment", func(opts map[string]any) (Stage, error) {
		var o attachmentOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Action == "" {
			return nil, fmt.Errorf("attachment: action is required")
		}
		return &attachmentStage{opts: o}, nil
	})
}

func (s *attachmentStage) Name() string { return "attachment" }

func (s *attachmentStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	switch s.opts.Action {
	case "add":
		if err := s.add(mctx); err != nil {
			// a failed add drops the attachment, not the message.
			mctx.Scratch["attachment_add_error"] = err.Error()
			return next(ctx)
		}
	case "remove":
		s.remove(mctx)
	case "validate":
		if blocked, reason := s.validate(mctx); blocked {
			mctx.Skip = true
			mctx.SkipReason = reason
			return nil
		}
	default:
		return fmt.Errorf("attachment: unknown action %q", s.opts.Action)
	}

	return next(ctx)
}

func (s *attachmentStage) add(mctx *Context) error {
	if s.opts.Add == nil {
		return fmt.Errorf("attachment: add config missing")
	}

	var data []byte
	switch {
	case s.opts.Add.Data != "":
		decoded, err := base64.StdEncoding.DecodeString(s.opts.Add.Data)
		if err != nil {
			return fmt.Errorf("attachment: decode base64 data: %w", err)
		}
		data = decoded
	case s.opts.Add.FilePath != "":
		read, err := os.ReadFile(s.opts.Add.FilePath)
		if err != nil {
			return fmt.Errorf("attachment: read file %s: %w", s.opts.Add.FilePath, err)
		}
		data = read
	default:
		return fmt.Errorf("attachment: add config needs data or file_path")
	}

	mctx.Message.Attachments = append(mctx.Message.Attachments, account.Attachment{
		Data:        data,
		MimeType:    s.opts.Add.MimeType,
		Filename:    s.opts.Add.Filename,
		Description: s.opts.Add.Description,
	})
	return nil
}

func (s *attachmentStage) remove(mctx *Context) {
	if s.opts.Remove == nil {
		return
	}

	indexSet := map[int]bool{}
	for _, i := range s.opts.Remove.Indexes {
		indexSet[i] = true
	}

	kept := make([]account.Attachment, 0, len(mctx.Message.Attachments))
	for i, a := range mctx.Message.Attachments {
		if indexSet[i] {
			continue
		}
		if s.opts.Remove.MimeTypeGlob != "" && glob.Glob(s.opts.Remove.MimeTypeGlob, a.MimeType) {
			continue
		}
		if s.opts.Remove.FilenameGlob != "" && glob.Glob(s.opts.Remove.FilenameGlob, a.Filename) {
			continue
		}
		if s.opts.Remove.MaxSize > 0 && len(a.Data) > s.opts.Remove.MaxSize {
			continue
		}
		kept = append(kept, a)
	}
	mctx.Message.Attachments = kept
}

func (s *attachmentStage) validate(mctx *Context) (bool, string) {
	attachments := mctx.Message.Attachments

	if s.opts.MaxCount > 0 && len(attachments) > s.opts.MaxCount {
		return true, fmt.Sprintf("attachment: %d attachments exceeds max_count %d", len(attachments), s.opts.MaxCount)
	}

	for _, a := range attachments {
		if s.opts.MaxSize > 0 && len(a.Data) > s.opts.MaxSize {
			return true, fmt.Sprintf("attachment: %q exceeds max_size %d", a.Filename, s.opts.MaxSize)
		}
		if len(s.opts.AllowedMimeTypes) > 0 && !mimeAllowed(a.MimeType, s.opts.AllowedMimeTypes) {
			return true, fmt.Sprintf("attachment: mime type %q not allowed", a.MimeType)
		}
	}

	return false, ""
}

func mimeAllowed(mimeType string, allowed []string) bool {
	for _, pattern := range allowed {
		if glob.Glob(pattern, mimeType) {
			return true
		}
	}
	return false
}
