package imageboard

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

const csrfField = "csrfmiddlewaretoken"

// extractCSRFToken 从表单 HTML 中取出 Django 风格的 csrfmiddlewaretoken。
func extractCSRFToken(body io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse form html: %w", err)
	}
	token, ok := doc.Find(fmt.Sprintf("input[name=%q]", csrfField)).First().Attr("value")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", ErrCSRFTokenMissing
	}
	return token, nil
}

// formBody 是编码好的请求体及其 Content-Type。
type formBody struct {
	contentType string
	payload     []byte
}

// encodeForm 无附件时使用 urlencoded，有附件时使用 multipart。
func encodeForm(fields map[string]string, files []UploadFile) (formBody, error) {
	if len(files) == 0 {
		values := url.Values{}
		for key, value := range fields {
			values.Set(key, value)
		}
		return formBody{
			contentType: "application/x-www-form-urlencoded",
			payload:     []byte(values.Encode()),
		}, nil
	}
	return encodeMultipart(fields, files)
}

func encodeMultipart(fields map[string]string, files []UploadFile) (formBody, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	if err := writer.SetBoundary("Boundary-" + uuid.NewString()); err != nil {
		return formBody{}, err
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := writer.WriteField(key, fields[key]); err != nil {
			return formBody{}, err
		}
	}

	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Name, file.Filename))
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return formBody{}, err
		}
		if _, err := part.Write(file.Data); err != nil {
			return formBody{}, err
		}
	}

	if err := writer.Close(); err != nil {
		return formBody{}, err
	}
	return formBody{contentType: writer.FormDataContentType(), payload: buf.Bytes()}, nil
}
