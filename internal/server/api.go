package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/fetch"
	"github.com/mobilemkch/mkchd/internal/imageboard"
	"github.com/mobilemkch/mkchd/internal/settings"
)

// uploadField 是上传附件使用的表单字段名。
const uploadField = "files"

type api struct {
	logger   *logrus.Logger
	orch     *fetch.Orchestrator
	auth     Authenticator
	settings *settings.Manager
	baseURL  string
}

func registerAPIRoutes(app *fiber.App, a *api) {
	group := app.Group("/api")

	group.Get("/boards", a.boards)
	group.Get("/board/:board", a.threads)
	group.Get("/board/:board/new-threads", a.newThreads)
	group.Post("/board/:board/new", a.createThread)
	group.Get("/board/:board/thread/:id", a.threadDetail)
	group.Get("/board/:board/thread/:id/comments", a.comments)
	group.Get("/board/:board/thread/:id/full", a.fullThread)
	group.Post("/board/:board/thread/:id/comment", a.addComment)

	group.Get("/favorites", a.listFavorites)
	group.Get("/favorites/:board/:id", a.getFavorite)
	group.Put("/favorites/:board/:id", a.addFavorite)
	group.Delete("/favorites/:board/:id", a.removeFavorite)

	group.Get("/settings", a.getSettings)
	group.Put("/settings", a.saveSettings)
	group.Delete("/settings", a.resetSettings)

	group.Post("/auth/passcode", a.loginPasscode)
	group.Post("/auth/key", a.loginKey)
}

type boardPayload struct {
	imageboard.Board
	BannerURL string `json:"banner_url,omitempty"`
}

func (a *api) boards(c fiber.Ctx) error {
	result, err := a.orch.Boards(requestContext(c), reloadRequested(c))
	if err != nil {
		return a.renderError(c, "boards", err)
	}
	payload := make([]boardPayload, 0, len(result.Value))
	for _, board := range result.Value {
		payload = append(payload, boardPayload{Board: board, BannerURL: board.BannerURL(a.baseURL)})
	}
	return sendResult(c, result.Source, payload)
}

func (a *api) threads(c fiber.Ctx) error {
	board, err := boardParam(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	result, err := a.orch.Threads(requestContext(c), board, reloadRequested(c))
	if err != nil {
		return a.renderError(c, "threads", err)
	}
	return sendResult(c, result.Source, nonNil(result.Value))
}

func (a *api) threadDetail(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	result, err := a.orch.ThreadDetail(requestContext(c), board, threadID, reloadRequested(c))
	if err != nil {
		return a.renderError(c, "thread_detail", err)
	}
	return sendResult(c, result.Source, result.Value)
}

func (a *api) comments(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	result, err := a.orch.Comments(requestContext(c), board, threadID, reloadRequested(c))
	if err != nil {
		return a.renderError(c, "comments", err)
	}
	return sendResult(c, result.Source, nonNil(result.Value))
}

func (a *api) fullThread(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	full, err := a.orch.FullThread(requestContext(c), board, threadID, reloadRequested(c))
	if err != nil {
		return a.renderError(c, "full_thread", err)
	}
	return sendResult(c, combineSources(full.ThreadSource, full.CommentsSource), full)
}

func (a *api) newThreads(c fiber.Ctx) error {
	board, err := boardParam(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	fresh, err := a.orch.CheckNewThreads(requestContext(c), board)
	if err != nil {
		return a.renderError(c, "check_new_threads", err)
	}
	c.Set(HeaderCacheSource, string(fetch.SourceNetwork))
	return c.JSON(fiber.Map{"board": board, "new_threads": fresh})
}

func (a *api) createThread(c fiber.Ctx) error {
	board, err := boardParam(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	title := strings.TrimSpace(c.FormValue("title"))
	text := strings.TrimSpace(c.FormValue("text"))
	if title == "" && text == "" {
		return renderBadRequest(c, errors.New("title or text required"))
	}
	files, err := uploadsFromForm(c)
	if err != nil {
		return renderBadRequest(c, err)
	}

	err = a.orch.CreateThread(requestContext(c), board, imageboard.NewThread{
		Title:    title,
		Text:     text,
		Passcode: a.passcodeFor(c),
		Files:    files,
	})
	if err != nil {
		return a.renderError(c, "create_thread", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"board": board, "created": true})
}

func (a *api) addComment(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	text := strings.TrimSpace(c.FormValue("text"))
	files, err := uploadsFromForm(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	if text == "" && len(files) == 0 {
		return renderBadRequest(c, errors.New("text or files required"))
	}

	err = a.orch.AddComment(requestContext(c), board, threadID, imageboard.NewComment{
		Text:     text,
		Passcode: a.passcodeFor(c),
		Files:    files,
	})
	if err != nil {
		return a.renderError(c, "add_comment", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"board": board, "thread": threadID, "created": true})
}

// passcodeFor 优先使用表单里的 passcode，否则回退到已保存的设置。
func (a *api) passcodeFor(c fiber.Ctx) string {
	if passcode := strings.TrimSpace(c.FormValue("passcode")); passcode != "" {
		return passcode
	}
	return a.settings.Load().Passcode
}

func (a *api) listFavorites(c fiber.Ctx) error {
	return c.JSON(a.settings.Favorites())
}

func (a *api) getFavorite(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	return c.JSON(fiber.Map{"board": board, "id": threadID, "favorite": a.settings.IsFavorite(board, threadID)})
}

type favoriteRequest struct {
	Title            string `json:"title"`
	BoardDescription string `json:"board_description"`
}

func (a *api) addFavorite(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	var req favoriteRequest
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return renderBadRequest(c, err)
		}
	}
	added, err := a.settings.AddFavorite(settings.FavoriteThread{
		ID:               threadID,
		Title:            req.Title,
		Board:            board,
		BoardDescription: req.BoardDescription,
	})
	if err != nil {
		return a.renderError(c, "add_favorite", err)
	}
	status := fiber.StatusOK
	if added {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"board": board, "id": threadID, "favorite": true})
}

func (a *api) removeFavorite(c fiber.Ctx) error {
	board, threadID, err := threadParams(c)
	if err != nil {
		return renderBadRequest(c, err)
	}
	removed, err := a.settings.RemoveFavorite(board, threadID)
	if err != nil {
		return a.renderError(c, "remove_favorite", err)
	}
	if !removed {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "favorite_not_found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *api) getSettings(c fiber.Ctx) error {
	return c.JSON(a.settings.Load())
}

func (a *api) saveSettings(c fiber.Ctx) error {
	current := a.settings.Load()
	if err := json.Unmarshal(c.Body(), &current); err != nil {
		return renderBadRequest(c, err)
	}
	if current.PageSize <= 0 || current.NotificationInterval <= 0 {
		return renderBadRequest(c, errors.New("pageSize and notificationInterval must be positive"))
	}
	if err := a.settings.Save(current); err != nil {
		return a.renderError(c, "save_settings", err)
	}
	return c.JSON(current)
}

func (a *api) resetSettings(c fiber.Ctx) error {
	reset, err := a.settings.Reset()
	if err != nil {
		return a.renderError(c, "reset_settings", err)
	}
	return c.JSON(reset)
}

func (a *api) loginPasscode(c fiber.Ctx) error {
	return a.login(c, "passcode", a.settings.Load().Passcode, func(ctx context.Context, secret string) error {
		return a.auth.LoginWithPasscode(ctx, secret)
	})
}

func (a *api) loginKey(c fiber.Ctx) error {
	return a.login(c, "key", a.settings.Load().Key, func(ctx context.Context, secret string) error {
		return a.auth.LoginWithKey(ctx, secret)
	})
}

func (a *api) login(c fiber.Ctx, field, saved string, do func(context.Context, string) error) error {
	if a.auth == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "auth_unavailable"})
	}
	secret := strings.TrimSpace(c.FormValue(field))
	if secret == "" {
		secret = saved
	}
	if secret == "" {
		return renderBadRequest(c, errors.New(field+" required"))
	}
	if err := do(requestContext(c), secret); err != nil {
		return a.renderError(c, "login_"+field, err)
	}
	return c.JSON(fiber.Map{"authenticated": true})
}

// renderError 把编排层错误映射为 HTTP 状态与错误码。
func (a *api) renderError(c fiber.Ctx, action string, err error) error {
	status, code := classifyError(err)
	a.logger.WithError(err).WithFields(logrus.Fields{
		"action":     action,
		"request_id": RequestID(c),
		"status":     status,
	}).Warn("request_failed")
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}

func classifyError(err error) (int, string) {
	var apiErr *imageboard.APIError
	switch {
	case errors.Is(err, fetch.ErrOfflineNoData):
		return fiber.StatusServiceUnavailable, "offline_no_data"
	case errors.Is(err, fetch.ErrOffline):
		return fiber.StatusServiceUnavailable, "offline"
	case errors.Is(err, imageboard.ErrCSRFTokenMissing):
		return fiber.StatusBadGateway, "csrf_token_missing"
	case errors.As(err, &apiErr) && apiErr.StatusCode == fiber.StatusNotFound:
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

func renderBadRequest(c fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "bad_request",
		"message": err.Error(),
	})
}

func sendResult(c fiber.Ctx, source fetch.Source, value any) error {
	c.Set(HeaderCacheSource, string(source))
	return c.JSON(value)
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func reloadRequested(c fiber.Ctx) bool {
	switch strings.ToLower(c.Query("reload")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func boardParam(c fiber.Ctx) (string, error) {
	board := strings.TrimSpace(c.Params("board"))
	if board == "" {
		return "", errors.New("board required")
	}
	return board, nil
}

func threadParams(c fiber.Ctx) (string, int, error) {
	board, err := boardParam(c)
	if err != nil {
		return "", 0, err
	}
	threadID, err := strconv.Atoi(c.Params("id"))
	if err != nil || threadID <= 0 {
		return "", 0, errors.New("invalid thread id")
	}
	return board, threadID, nil
}

// uploadsFromForm 读取 multipart 请求中的附件；非 multipart 请求没有附件。
func uploadsFromForm(c fiber.Ctx) ([]imageboard.UploadFile, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	headers := form.File[uploadField]
	files := make([]imageboard.UploadFile, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, imageboard.UploadFile{
			Name:     uploadField,
			Filename: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return files, nil
}

// combineSources 取两部分中最"差"的来源：stale > network > cache。
func combineSources(a, b fetch.Source) fetch.Source {
	switch {
	case a == fetch.SourceStale || b == fetch.SourceStale:
		return fetch.SourceStale
	case a == fetch.SourceNetwork || b == fetch.SourceNetwork:
		return fetch.SourceNetwork
	default:
		return fetch.SourceCache
	}
}

func nonNil[E any](list []E) []E {
	if list == nil {
		return []E{}
	}
	return list
}
