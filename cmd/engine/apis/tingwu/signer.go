package tingwu

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The task management API uses the ROA-style request signature: an
// HMAC-SHA1 over the method, content digest, date and the canonicalized
// acs headers and resource, presented as "acs <keyID>:<signature>".

const (
	acsSignatureMethod  = "HMAC-SHA1"
	acsSignatureVersion = "1.0"
	acsAPIVersion       = "2023-09-30"
)

type signedRequest struct {
	method  string
	path    string
	query   map[string]string
	body    string
	headers map[string]string
}

func signRequest(req signedRequest, accessKeyID, accessKeySecret string) map[string]string {
	const (
		accept      = "application/json"
		contentType = "application/json"
	)

	contentMD5 := base64.StdEncoding.EncodeToString(md5Sum(req.body))
	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")

	acsHeaders := map[string]string{
		"x-acs-signature-method":  acsSignatureMethod,
		"x-acs-signature-nonce":   uuid.NewString(),
		"x-acs-signature-version": acsSignatureVersion,
		"x-acs-version":           acsAPIVersion,
	}

	stringToSign := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s%s",
		req.method, accept, contentMD5, contentType, date,
		canonicalizedHeaders(acsHeaders), canonicalizedResource(req.path, req.query))

	signature := signHMACSHA1(accessKeySecret, stringToSign)

	headers := map[string]string{
		"accept":        accept,
		"content-type":  contentType,
		"content-md5":   contentMD5,
		"date":          date,
		"authorization": fmt.Sprintf("acs %s:%s", accessKeyID, signature),
	}
	for name, value := range acsHeaders {
		headers[name] = value
	}

	return headers
}

func canonicalizedHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteByte(':')
		sb.WriteString(headers[key])
		sb.WriteByte('\n')
	}

	return sb.String()
}

func canonicalizedResource(path string, query map[string]string) string {
	if len(query) == 0 {
		return path
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+query[key])
	}

	return path + "?" + strings.Join(parts, "&")
}

func signHMACSHA1(secret, payload string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func md5Sum(body string) []byte {
	sum := md5.Sum([]byte(body))
	return sum[:]
}
