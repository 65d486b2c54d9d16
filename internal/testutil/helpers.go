// Package testutil provides test helper functions.
package testutil

import (
	"crypto/md5" //nolint:gosec // test checksums
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// GenerateRandomData generates random bytes of the specified size.
// This is useful for creating test data for uploads.
func GenerateRandomData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rand.Intn(256))
	}
	return data
}

// GenerateTestKey generates a test object key with optional prefix.
// This helps ensure test isolation by using unique keys.
func GenerateTestKey(prefix string) string {
	timestamp := time.Now().UnixNano()
	random := rand.Int63n(100000)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%stest-object-%d-%d", prefix, timestamp, random)
}

// GenerateTestBucketName generates a valid test bucket name.
// Bucket names must be DNS-compliant and globally unique.
func GenerateTestBucketName(prefix string) string {
	name := fmt.Sprintf("%s-%d-%d", prefix, time.Now().Unix(), rand.Int31n(10000))
	name = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// CalculateMD5 returns the base64 MD5 of data as sent in Content-MD5.
func CalculateMD5(data []byte) string {
	h := md5.Sum(data) //nolint:gosec // test checksums
	return base64.StdEncoding.EncodeToString(h[:])
}

// CalculateMD5Hex returns the hex MD5 of data.
func CalculateMD5Hex(data []byte) string {
	h := md5.Sum(data) //nolint:gosec // test checksums
	return hex.EncodeToString(h[:])
}

// CalculateETag returns the quoted ETag the service reports for a single-part body.
func CalculateETag(data []byte) string {
	return `"` + CalculateMD5Hex(data) + `"`
}
