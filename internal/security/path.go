package security

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateSavePath checks a user supplied path relative to the output
// directory.
func ValidateSavePath(p string) error {
	if filepath.IsAbs(p) {
		return ErrAbsolutePath
	}

	for _, part := range strings.FieldsFunc(p, isSeparator) {
		if part == ".." {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(filepath.Clean(p))
	if isReserved(base) {
		return ErrReservedName
	}

	if strings.HasPrefix(base, "-") {
		return fmt.Errorf("filename cannot start with hyphen")
	}

	return nil
}

// LocalName derives a safe local filename from an artifact reference such as
// "outputs/img-samples/000012.3357757885.png".
func LocalName(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return SanitizeFilename(path.Base(strings.ReplaceAll(ref, "\\", "/")))
}

func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := replacer.Replace(name)
	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	if isReserved(sanitized) {
		sanitized += "_"
	}

	if sanitized == "" {
		sanitized = "image"
	}

	return sanitized
}

func isReserved(name string) bool {
	stem := strings.TrimSuffix(strings.ToLower(name), filepath.Ext(name))
	return windowsReservedNames[stem]
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
