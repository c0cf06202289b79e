package chat

import (
	"fmt"

	"lightchat/llm"
	"lightchat/utils"
)

// Encoder promotes attachments from their local reference to the durable
// data: URI form stored with a message.
type Encoder struct {
	uploads *utils.FileUploadHandler
}

// NewEncoder creates an encoder with the default upload limits.
func NewEncoder() *Encoder {
	return &Encoder{uploads: utils.NewFileUploadHandler()}
}

// Promote loads each attachment's file or bytes (downscaling large images) and
// returns the attachments in durable form. Attachments that are already
// durable pass through.
func (e *Encoder) Promote(attachments []Attachment) ([]Attachment, error) {
	out := make([]Attachment, 0, len(attachments))
	for _, a := range attachments {
		var (
			up  *utils.UploadedFile
			err error
		)
		switch {
		case a.Path != "":
			up, err = e.uploads.ProcessFile(a.Path)
		case a.Data != nil:
			up, err = e.uploads.ProcessData(a.Name, a.MimeType, a.Data)
		case a.URL != "":
			out = append(out, a.Durable())
			continue
		default:
			return nil, fmt.Errorf("attachment %q has no content", a.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load attachment %q: %w", a.Name, err)
		}

		name := a.Name
		if name == "" {
			name = up.Filename
		}
		out = append(out, Attachment{
			Name:     name,
			MimeType: up.MimeType,
			URL:      utils.EncodeDataURL(up.MimeType, up.Data),
		})
	}
	return out, nil
}

// Files decodes durable attachments into transmission payloads. An attachment
// whose URL is not a data: URI keeps its metadata but has no payload, so it is
// neither uploaded nor embedded.
func Files(attachments []Attachment) []llm.File {
	files := make([]llm.File, 0, len(attachments))
	for _, a := range attachments {
		f := llm.File{Name: a.Name, MimeType: a.MimeType}
		if _, data, err := utils.DecodeDataURL(a.URL); err == nil {
			f.Data = data
		}
		files = append(files, f)
	}
	return files
}
