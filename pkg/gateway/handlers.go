package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/pario-ai/semcache/pkg/ctxbuild"
	"github.com/pario-ai/semcache/pkg/detect"
	"github.com/pario-ai/semcache/pkg/generation"
	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/models"
)

const maxBodySize = 10 << 20

var (
	errFileContent    = goerr.New("fileContent is required")
	errCursor         = goerr.New("cursorLine and cursorColumn must be non-negative integers")
	errSuggestionType = goerr.New("suggestionType is required")
	errMessage        = goerr.New("message must not be empty")
	errRole           = goerr.New("history role must be user or assistant")
)

func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return goerr.Wrap(err, "read request body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return goerr.Wrap(err, "invalid JSON body")
	}
	return nil
}

func validateCode(req models.CodeRequest) error {
	if req.FileContent == nil {
		return errFileContent
	}
	if req.CursorLine == nil || req.CursorColumn == nil || *req.CursorLine < 0 || *req.CursorColumn < 0 {
		return errCursor
	}
	if strings.TrimSpace(req.SuggestionType) == "" {
		return errSuggestionType
	}
	return nil
}

func validateChat(req models.ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return errMessage
	}
	for _, turn := range req.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			return errRole
		}
	}
	return nil
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req models.CodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateCode(req); err != nil {
		logging.From(r.Context()).Debug("rejected completion request", logging.ErrorAttr(err))
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	content := *req.FileContent
	language := detect.Language(req.FileName, content)
	c := ctxbuild.Code{
		FileContent:    content,
		CursorLine:     *req.CursorLine,
		CursorColumn:   *req.CursorColumn,
		Language:       language,
		Framework:      detect.Framework(language, content),
		SuggestionType: req.SuggestionType,
	}

	s.serve(w, r, c, []string{c.Kind(), "completion"}, func(model string) generation.Request {
		return generation.ForCode(c, model)
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateChat(req); err != nil {
		logging.From(r.Context()).Debug("rejected chat request", logging.ErrorAttr(err))
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := ctxbuild.Chat{
		Message: req.Message,
		Mode:    req.Mode,
		History: req.History,
	}

	s.serve(w, r, c, []string{c.Kind(), "chat"}, func(model string) generation.Request {
		return generation.ForChat(c, model)
	})
}
