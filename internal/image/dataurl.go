package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/manash/seedgraph/pkg/models"
)

// MaxSeedImageSize bounds seed images read from disk.
const MaxSeedImageSize = 20 << 20

var (
	ErrNotAnImage = errors.New("seed image is not a png, jpeg or webp file")
	ErrTooLarge   = errors.New("seed image too large")
)

var mimeFormats = map[string]models.OutputFormat{
	"image/png":  models.FormatPNG,
	"image/jpeg": models.FormatJPEG,
	"image/webp": models.FormatWebP,
}

// EncodeDataURL reads a seed image and returns it as a base64 data URL along
// with the file's base name, ready for the initimg/initimg_name fields.
func EncodeDataURL(path string) (dataURL, name string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxSeedImageSize {
		return "", "", fmt.Errorf("%w: %s (limit %s)", ErrTooLarge,
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(MaxSeedImageSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	mime := DetectMIME(data)
	if _, ok := mimeFormats[mime]; !ok {
		return "", "", fmt.Errorf("%w: detected %s", ErrNotAnImage, mime)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	return "data:" + mime + ";base64," + encoded, filepath.Base(path), nil
}

// DetectMIME sniffs the content type of image data.
func DetectMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// FormatOf reports the output format of image data, if it is one.
func FormatOf(data []byte) (models.OutputFormat, bool) {
	f, ok := mimeFormats[DetectMIME(data)]
	return f, ok
}
