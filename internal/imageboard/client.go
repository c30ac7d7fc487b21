package imageboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Options 描述上游地址与请求标识。
type Options struct {
	BaseURL   string
	APIURL    string
	UserAgent string
	Logger    *logrus.Logger
}

// Client 是 imageboard 服务的薄封装：只读接口走可重试客户端，
// 表单提交走不重试、不跟随重定向的客户端，避免重复发帖。
type Client struct {
	reads     *retryablehttp.Client
	writes    *http.Client
	baseURL   string
	apiURL    string
	userAgent string
	logger    *logrus.Logger
}

// New 基于共享的 retryablehttp.Client 构建 API 客户端。
func New(httpClient *retryablehttp.Client, opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	api := strings.TrimRight(opts.APIURL, "/")
	if api == "" {
		api = base + "/api"
	}

	writes := *httpClient.HTTPClient
	writes.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		reads:     httpClient,
		writes:    &writes,
		baseURL:   base,
		apiURL:    api,
		userAgent: opts.UserAgent,
		logger:    logger,
	}
}

// BaseURL 返回站点根地址，用于拼接横幅与附件链接。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Boards 获取版块列表。
func (c *Client) Boards(ctx context.Context) ([]Board, error) {
	var boards []Board
	if err := c.getJSON(ctx, c.apiURL+"/boards/", "Ошибка получения досок", &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// Threads 获取版块的线程列表。
func (c *Client) Threads(ctx context.Context, board string) ([]Thread, error) {
	var threads []Thread
	endpoint := fmt.Sprintf("%s/board/%s", c.apiURL, url.PathEscape(board))
	if err := c.getJSON(ctx, endpoint, "Ошибка получения тредов", &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// ThreadDetail 获取线程详情。
func (c *Client) ThreadDetail(ctx context.Context, board string, threadID int) (ThreadDetail, error) {
	var detail ThreadDetail
	endpoint := fmt.Sprintf("%s/board/%s/thread/%d", c.apiURL, url.PathEscape(board), threadID)
	if err := c.getJSON(ctx, endpoint, "Ошибка получения треда", &detail); err != nil {
		return ThreadDetail{}, err
	}
	return detail, nil
}

// Comments 获取线程评论。
func (c *Client) Comments(ctx context.Context, board string, threadID int) ([]Comment, error) {
	var comments []Comment
	endpoint := fmt.Sprintf("%s/board/%s/thread/%d/comments", c.apiURL, url.PathEscape(board), threadID)
	if err := c.getJSON(ctx, endpoint, "Ошибка получения комментариев", &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// LoginWithPasscode 通过 passcode 表单登录，会话保存在共享 cookie jar 中。
func (c *Client) LoginWithPasscode(ctx context.Context, passcode string) error {
	formURL := c.baseURL + "/passcode/enter/"
	return c.submitForm(ctx, formURL, map[string]string{"passcode": passcode}, nil, "Ошибка входа с passcode")
}

// LoginWithKey 通过 /key/auth/ 表单以 key 认证。
func (c *Client) LoginWithKey(ctx context.Context, key string) error {
	formURL := c.baseURL + "/key/auth/"
	return c.submitForm(ctx, formURL, map[string]string{"key": key}, nil, "Ошибка аутентификации")
}

// CreateThread 在版块下创建线程。
func (c *Client) CreateThread(ctx context.Context, board string, thread NewThread) error {
	if thread.Passcode != "" {
		if err := c.LoginWithPasscode(ctx, thread.Passcode); err != nil {
			return err
		}
	}
	formURL := fmt.Sprintf("%s/boards/board/%s/new", c.baseURL, url.PathEscape(board))
	fields := map[string]string{"title": thread.Title, "text": thread.Text}
	return c.submitForm(ctx, formURL, fields, thread.Files, "Ошибка создания треда")
}

// AddComment 回复线程。
func (c *Client) AddComment(ctx context.Context, board string, threadID int, comment NewComment) error {
	if comment.Passcode != "" {
		if err := c.LoginWithPasscode(ctx, comment.Passcode); err != nil {
			return err
		}
	}
	formURL := fmt.Sprintf("%s/boards/board/%s/thread/%d/comment", c.baseURL, url.PathEscape(board), threadID)
	fields := map[string]string{"text": comment.Text}
	return c.submitForm(ctx, formURL, fields, comment.Files, "Ошибка добавления комментария")
}

func (c *Client) getJSON(ctx context.Context, endpoint, failure string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.setUserAgent(req.Header)

	resp, err := c.reads.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Message: failure, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// null 与空响应同样视为无数据，交由调用方回落到旧缓存。
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// submitForm 先 GET 表单页拿到 CSRF token，再以同一地址 POST；200/302 视为成功。
func (c *Client) submitForm(ctx context.Context, formURL string, fields map[string]string, files []UploadFile, failure string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formURL, nil)
	if err != nil {
		return err
	}
	c.setUserAgent(req.Header)

	resp, err := c.writes.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return &APIError{Message: "Ошибка получения формы", StatusCode: resp.StatusCode}
	}
	token, err := extractCSRFToken(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	payload := make(map[string]string, len(fields)+1)
	for key, value := range fields {
		payload[key] = value
	}
	payload[csrfField] = token

	form, err := encodeForm(payload, files)
	if err != nil {
		return err
	}

	post, err := http.NewRequestWithContext(ctx, http.MethodPost, formURL, bytes.NewReader(form.payload))
	if err != nil {
		return err
	}
	post.Header.Set("Content-Type", form.contentType)
	post.Header.Set("Referer", formURL)
	c.setUserAgent(post.Header)

	postResp, err := c.writes.Do(post)
	if err != nil {
		return err
	}
	defer postResp.Body.Close()
	_, _ = io.Copy(io.Discard, postResp.Body)

	if postResp.StatusCode != http.StatusOK && postResp.StatusCode != http.StatusFound {
		return &APIError{Message: failure, StatusCode: postResp.StatusCode}
	}

	c.logger.WithFields(logrus.Fields{
		"action": "form_submit",
		"url":    formURL,
		"status": postResp.StatusCode,
		"files":  len(files),
	}).Info("表单提交成功")
	return nil
}

func (c *Client) setUserAgent(h http.Header) {
	if c.userAgent != "" {
		h.Set("User-Agent", c.userAgent)
	}
}
