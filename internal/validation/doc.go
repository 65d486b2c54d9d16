// Package validation checks job specifications before they are queued.
// Bucket names, object keys and metadata follow the service's naming rules;
// malformed input is rejected with the errors package sentinels so callers
// learn about it at submission instead of from a failed part.
package validation
