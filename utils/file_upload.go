package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// UploadedFile is a loaded attachment payload ready for encoding.
type UploadedFile struct {
	Filename string
	MimeType string
	Data     []byte
}

// FileUploadHandler handles file uploads and processing
type FileUploadHandler struct {
	maxFileSize  int64 // Maximum file size in bytes
	maxImageSize uint  // Maximum image dimension (width or height)
	imageQuality int   // JPEG quality (1-100)
}

// NewFileUploadHandler creates a new file upload handler with default settings
func NewFileUploadHandler() *FileUploadHandler {
	return &FileUploadHandler{
		maxFileSize:  10 * 1024 * 1024, // 10MB
		maxImageSize: 1024,             // 1024px
		imageQuality: 85,
	}
}

// ProcessFile loads the file at filePath. Images are downscaled; every other type
// is read as-is.
func (h *FileUploadHandler) ProcessFile(filePath string) (*UploadedFile, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}

	if fileInfo.Size() > h.maxFileSize {
		return nil, fmt.Errorf("file too large: %s (max %s)", FormatFileSize(fileInfo.Size()), FormatFileSize(h.maxFileSize))
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return h.ProcessData(filepath.Base(filePath), h.detectMimeType(filePath), data)
}

// ProcessData processes an in-memory payload (e.g. pasted from the clipboard).
// An empty mimeType is derived from the file name.
func (h *FileUploadHandler) ProcessData(filename, mimeType string, data []byte) (*UploadedFile, error) {
	if int64(len(data)) > h.maxFileSize {
		return nil, fmt.Errorf("file too large: %s (max %s)", FormatFileSize(int64(len(data))), FormatFileSize(h.maxFileSize))
	}
	if mimeType == "" {
		mimeType = h.detectMimeType(filename)
	}

	if IsImageMimeType(mimeType) {
		return h.processImage(filename, mimeType, data), nil
	}

	return &UploadedFile{
		Filename: filename,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// detectMimeType detects the MIME type of a file
func (h *FileUploadHandler) detectMimeType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return GetMimeType(filePath)
	}
	// Remove charset if present
	if idx := strings.Index(mimeType, ";"); idx > 0 {
		mimeType = mimeType[:idx]
	}
	return mimeType
}

// processImage downscales images larger than maxImageSize. Formats the standard
// decoders do not understand (webp, svg) are passed through untouched.
func (h *FileUploadHandler) processImage(filename, mimeType string, data []byte) *UploadedFile {
	original := &UploadedFile{Filename: filename, MimeType: mimeType, Data: data}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return original
	}

	bounds := img.Bounds()
	width := uint(bounds.Dx())
	height := uint(bounds.Dy())
	if width <= h.maxImageSize && height <= h.maxImageSize {
		return original
	}

	// Calculate new dimensions maintaining aspect ratio
	if width > height {
		img = resize.Resize(h.maxImageSize, 0, img, resize.Lanczos3)
	} else {
		img = resize.Resize(0, h.maxImageSize, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		// Convert to JPEG for other formats
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: h.imageQuality})
		mimeType = "image/jpeg"
	}
	if err != nil {
		return original
	}

	return &UploadedFile{
		Filename: filename,
		MimeType: mimeType,
		Data:     buf.Bytes(),
	}
}
