package validation

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

var mimePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-+.]*/[a-zA-Z0-9][a-zA-Z0-9\-+.]*(\s*;.*)?$`)

// ValidateJobSpec validates everything the manager needs from a job spec.
func ValidateJobSpec(spec xfertypes.JobSpec) error {
	if !spec.Kind.Valid() {
		return errors.NewError("validateJob", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("unknown transfer kind %q", spec.Kind))
	}
	if err := ValidateLocalPath(spec.LocalPath); err != nil {
		return err
	}
	if err := ValidateBucketName(spec.Remote.Bucket); err != nil {
		return err
	}
	if err := ValidateObjectKey(spec.Remote.Key); err != nil {
		return err
	}
	if spec.Size < 0 || spec.PartSize < 0 {
		return errors.NewObjectError("validateJob", spec.Remote.Bucket, spec.Remote.Key, errors.ErrInvalidInput).
			WithMessage("sizes cannot be negative")
	}
	if spec.Kind == xfertypes.KindUpload {
		if err := ValidateMetadata(spec.Metadata); err != nil {
			return err
		}
		if err := ValidateContentType(spec.ContentType); err != nil {
			return err
		}
	}
	return nil
}

// ValidateLocalPath checks that a local path names a file.
func ValidateLocalPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewError("validateLocalPath", errors.ErrInvalidInput).
			WithMessage("local path cannot be empty")
	}
	if strings.HasSuffix(path, "/") || filepath.Base(path) == "." {
		return errors.NewError("validateLocalPath", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("local path %q names a directory", path))
	}
	if hasControlCharacters(path) {
		return errors.NewError("validateLocalPath", errors.ErrInvalidInput).
			WithMessage("local path cannot contain control characters")
	}
	return nil
}

// ValidateBucketName validates that a bucket name is DNS-compliant.
func ValidateBucketName(bucket string) error {
	fail := func(msg string) error {
		return errors.NewError("validateBucketName", errors.ErrInvalidBucketName).
			WithBucket(bucket).
			WithMessage(msg)
	}

	if len(bucket) < 3 || len(bucket) > 63 {
		return fail("bucket name must be between 3 and 63 characters long")
	}
	for _, c := range bucket {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'z') && c != '.' && c != '-' {
			return fail("bucket name can only contain lowercase letters, numbers, dots, and hyphens")
		}
	}
	if strings.ContainsAny(bucket[:1], ".-") || strings.ContainsAny(bucket[len(bucket)-1:], ".-") {
		return fail("bucket name cannot start or end with a hyphen or dot")
	}
	if net.ParseIP(bucket) != nil {
		return fail("bucket name cannot be formatted as an IP address")
	}
	if strings.Contains(bucket, "..") || strings.Contains(bucket, ".-") || strings.Contains(bucket, "-.") {
		return fail("bucket name cannot contain adjacent periods")
	}
	return nil
}

// ValidateObjectKey validates an object key used as a transfer endpoint.
func ValidateObjectKey(key string) error {
	fail := func(msg string) error {
		return errors.NewError("validateObjectKey", errors.ErrInvalidObjectKey).
			WithKey(key).
			WithMessage(msg)
	}

	switch {
	case key == "":
		return fail("object key cannot be empty")
	case len(key) > 1024:
		return fail("object key cannot exceed 1024 bytes")
	case strings.HasSuffix(key, "/"):
		return fail("object key names a folder")
	case hasPathTraversal(key):
		return fail("object key cannot contain path traversal sequences")
	case hasControlCharacters(key):
		return fail("object key cannot contain control characters")
	}
	return nil
}

// ValidateMetadata validates user metadata keys and values.
func ValidateMetadata(metadata map[string]string) error {
	for key, value := range metadata {
		if key == "" || len(key) > 128 {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage("metadata key must be between 1 and 128 characters")
		}
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "x-amz-") || strings.HasPrefix(lower, "aws:") {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage(fmt.Sprintf("metadata key %q uses a reserved prefix", key))
		}
		for _, c := range key {
			if c <= ' ' || c > '~' {
				return errors.NewError("validateMetadata", errors.ErrInvalidInput).
					WithMessage("metadata key can only contain printable ASCII characters")
			}
		}
		if len(value) > 2048 {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage("metadata value cannot exceed 2048 characters")
		}
		for _, c := range value {
			if !unicode.IsPrint(c) && c != '\t' {
				return errors.NewError("validateMetadata", errors.ErrInvalidInput).
					WithMessage("metadata value can only contain printable characters")
			}
		}
	}
	return nil
}

// ValidateContentType validates an explicit content type. Empty is allowed.
func ValidateContentType(contentType string) error {
	if contentType == "" || mimePattern.MatchString(contentType) {
		return nil
	}
	return errors.NewError("validateContentType", errors.ErrInvalidInput).
		WithMessage("content type must be a valid MIME type")
}

func hasPathTraversal(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return true
		}
	}
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(cleaned, "/") {
		return true
	}
	return len(cleaned) >= 3 && cleaned[1] == ':' && (cleaned[2] == '\\' || cleaned[2] == '/')
}

func hasControlCharacters(s string) bool {
	for _, c := range s {
		if unicode.IsControl(c) {
			return true
		}
	}
	return false
}
