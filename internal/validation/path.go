package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// DomainPattern определяет допустимый формат домена vault
// Только строчные латинские буквы, цифры, дефис; начинается с буквы
// Длина: 2-64 символа
var DomainPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,63}$`)

// SegmentPattern определяет допустимый сегмент canonical path
var SegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const (
	// MaxPathLen максимальная длина canonical path
	MaxPathLen = 512
	// MaxContentLen максимальный размер содержимого документа (1 MiB)
	MaxContentLen = 1 << 20
)

// ValidateDomain проверяет, что домен соответствует требованиям
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("domain cannot be empty")
	}

	if !DomainPattern.MatchString(domain) {
		return fmt.Errorf("domain can only contain lowercase letters, digits and hyphens")
	}

	return nil
}

// ValidateCanonicalPath проверяет canonical path документа.
// Путь состоит из сегментов, разделенных "/", без ".." и без ведущего слеша.
func ValidateCanonicalPath(path string) error {
	if path == "" {
		return fmt.Errorf("canonical path cannot be empty")
	}

	if len(path) > MaxPathLen {
		return fmt.Errorf("canonical path must not exceed %d characters", MaxPathLen)
	}

	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("canonical path must not start or end with '/'")
	}

	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			return fmt.Errorf("canonical path must not contain empty segments")
		}
		if segment == "." || segment == ".." {
			return fmt.Errorf("canonical path must not contain '.' or '..' segments")
		}
		if !SegmentPattern.MatchString(segment) {
			return fmt.Errorf("canonical path segment %q contains invalid characters", segment)
		}
	}

	return nil
}

// ValidateContent проверяет размер содержимого документа
func ValidateContent(content string) error {
	if len(content) > MaxContentLen {
		return fmt.Errorf("content must not exceed %d bytes", MaxContentLen)
	}
	return nil
}
