package validation

import (
	"mime"
	"strings"
	"unicode"
)

// MaxDocumentSize is the per-file upload limit.
const MaxDocumentSize int64 = 5 << 20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

var accountTypes = map[string]struct{}{
	"savings": {},
	"current": {},
	"fixed":   {},
}

type Field struct {
	Name  string
	Value string
}

type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// RequireAllPresent reports every field whose value is empty or blank, in
// the order given.
func RequireAllPresent(fields ...Field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// IsValidEmail accepts local@domain.tld: exactly one "@", no whitespace, and
// a dot inside the domain with characters on both sides of it.
func IsValidEmail(s string) bool {
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	if strings.Count(s, "@") != 1 {
		return false
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || domain == "" {
		return false
	}
	for i := 1; i < len(domain)-1; i++ {
		if domain[i] == '.' {
			return true
		}
	}
	return false
}

// IsValidAccountNumber accepts 8 to 16 ASCII digits.
func IsValidAccountNumber(s string) bool {
	if len(s) < 8 || len(s) > 16 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsAllowedImageType checks a declared media type. Parameters such as
// "; charset" are ignored.
func IsAllowedImageType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	_, ok := allowedImageTypes[mediaType]
	return ok
}

func IsWithinSize(size, limit int64) bool {
	return size >= 0 && size <= limit
}

// IsImageDataURL reports whether s is a data URL declaring an image type.
func IsImageDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}

func IsValidAccountType(s string) bool {
	_, ok := accountTypes[s]
	return ok
}

// NormalizeAccountType lowercases the value and defaults empty to savings.
func NormalizeAccountType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "savings"
	}
	return s
}
