package imageboard

import (
	"strings"
	"time"
)

// Board 是 /api/boards/ 返回的版块描述。
type Board struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Banner      *string `json:"banner,omitempty"`
}

// BannerURL 返回横幅的绝对地址；相对路径拼接到 baseURL。
func (b Board) BannerURL(baseURL string) string {
	if b.Banner == nil || *b.Banner == "" {
		return ""
	}
	banner := *b.Banner
	if strings.HasPrefix(banner, "http://") || strings.HasPrefix(banner, "https://") {
		return banner
	}
	return strings.TrimRight(baseURL, "/") + banner
}

// Thread 是版块列表中的线程摘要。
type Thread struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Creation string   `json:"creation"`
	Board    string   `json:"board"`
	Rating   *int     `json:"rating,omitempty"`
	Pinned   *bool    `json:"pinned,omitempty"`
	Files    []string `json:"files"`
}

// RatingValue 将缺失的 rating 视为 0。
func (t Thread) RatingValue() int {
	if t.Rating == nil {
		return 0
	}
	return *t.Rating
}

// IsPinned 将缺失的 pinned 视为 false。
func (t Thread) IsPinned() bool {
	return t.Pinned != nil && *t.Pinned
}

// CreationTime 解析 ISO8601 创建时间，无法解析时返回零值。
func (t Thread) CreationTime() time.Time {
	return parseCreation(t.Creation)
}

// ThreadDetail 是单个线程的完整内容。
type ThreadDetail struct {
	ID       int      `json:"id"`
	Creation string   `json:"creation"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Board    string   `json:"board"`
	Files    []string `json:"files"`
}

// Comment 是线程下的一条回复。
type Comment struct {
	ID       int      `json:"id"`
	Text     string   `json:"text"`
	Creation string   `json:"creation"`
	Files    []string `json:"files"`
}

// UploadFile 描述随帖子上传的附件。
type UploadFile struct {
	Name     string
	Filename string
	MimeType string
	Data     []byte
}

// NewThread 是创建线程的表单内容。Passcode 非空时先登录。
type NewThread struct {
	Title    string
	Text     string
	Passcode string
	Files    []UploadFile
}

// NewComment 是回复线程的表单内容。
type NewComment struct {
	Text     string
	Passcode string
	Files    []UploadFile
}

func parseCreation(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
