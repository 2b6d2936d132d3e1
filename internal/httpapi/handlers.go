package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/ragdocd/internal/gateway"
	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"github.com/fyrsmithlabs/ragdocd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// writeError writes a {status, error} body. Internal errors (500) are
// logged with full detail through the request's logger and surfaced as
// a generic message.
func writeError(c echo.Context, status int, err error) error {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("internal error: %v", err)
		msg = "Internal: internal server error"
	}
	return c.JSON(status, errorResponse{Status: "failed", Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidInput), errors.Is(err, orchestrator.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrEmbeddingUnavailable), errors.Is(err, orchestrator.ErrVectorStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusForKind maps a per-document error message of the form
// "<Kind>: <detail>" (as produced by the orchestrator's per-document
// Result.Error) to an HTTP status.
func statusForKind(msg string) int {
	kind, _, _ := strings.Cut(msg, ":")
	switch kind {
	case "InvalidInput":
		return http.StatusBadRequest
	case "VersionConflict":
		return http.StatusConflict
	case "MetadataInvalid":
		return http.StatusUnprocessableEntity
	case "EmbeddingUnavailable", "VectorStoreUnavailable", "MetadataStoreUnavailable":
		return http.StatusServiceUnavailable
	case "Timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type saveRequestBody struct {
	DocID          string                 `json:"doc_id"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Tag            string                 `json:"tag,omitempty"`
	UpdateMetadata *bool                  `json:"update_metadata,omitempty"`
}

type saveResponseBody struct {
	Status   string `json:"status"`
	DocID    string `json:"doc_id"`
	VectorID string `json:"vector_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleSave(c echo.Context) error {
	if _, ok := s.rateLimit(c); !ok {
		return nil
	}

	var body saveRequestBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, gateway.ErrInvalidInput)
	}

	resp, err := s.gateway.Save(c.Request().Context(), gateway.SaveRequest{
		DocID:          body.DocID,
		Content:        body.Content,
		Metadata:       metadatastore.Metadata(body.Metadata),
		Tag:            body.Tag,
		UpdateMetadata: body.UpdateMetadata,
	})
	if err != nil {
		return writeError(c, statusFor(err), err)
	}
	if resp.Status != "success" {
		return c.JSON(statusForKind(resp.Error), saveResponseBody{Status: resp.Status, DocID: resp.DocID, Error: resp.Error})
	}
	return c.JSON(http.StatusOK, saveResponseBody{Status: resp.Status, DocID: resp.DocID, VectorID: resp.VectorID})
}

type queryRequestBody struct {
	QueryText string                 `json:"query_text"`
	K         int                    `json:"k,omitempty"`
	ScoreMin  float32                `json:"score_min,omitempty"`
	Tag       string                 `json:"tag,omitempty"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	PathQuery string                 `json:"path_query,omitempty"`
}

type hitBody struct {
	DocID          string                 `json:"doc_id"`
	Score          float32                `json:"score"`
	ContentPreview string                 `json:"content_preview"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	HierarchyPath  string                 `json:"hierarchy_path"`
}

type queryResponseBody struct {
	Status  string    `json:"status"`
	Results []hitBody `json:"results"`
}

func (s *Server) handleQuery(c echo.Context) error {
	p, ok := s.rateLimit(c)
	if !ok {
		return nil
	}

	var body queryRequestBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, gateway.ErrInvalidInput)
	}

	result, err := s.gateway.RAGSearch(c.Request().Context(), p, gateway.SearchRequest{
		QueryText: body.QueryText,
		K:         body.K,
		ScoreMin:  body.ScoreMin,
		Tag:       body.Tag,
		Filters:   body.Filters,
		Tags:      body.Tags,
		PathQuery: body.PathQuery,
	})
	if err != nil {
		return writeError(c, statusFor(err), err)
	}

	resp := queryResponseBody{Status: result.Status}
	for _, h := range result.Results {
		resp.Results = append(resp.Results, hitBody{
			DocID:          h.DocID,
			Score:          h.Score,
			ContentPreview: h.ContentPreview,
			Metadata:       map[string]interface{}(h.Metadata),
			HierarchyPath:  h.HierarchyPath,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

type searchRequestBody struct {
	Tag     string                 `json:"tag,omitempty"`
	Filters map[string]interface{} `json:"filters,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
	Offset  int                    `json:"offset,omitempty"`
}

type searchHitBody struct {
	PointID string                 `json:"point_id"`
	Payload map[string]interface{} `json:"payload"`
}

type searchResponseBody struct {
	Status  string          `json:"status"`
	Results []searchHitBody `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	if _, ok := s.rateLimit(c); !ok {
		return nil
	}

	var body searchRequestBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, gateway.ErrInvalidInput)
	}

	hits, err := s.gateway.Search(c.Request().Context(), gateway.ScrollRequest{
		Tag:     body.Tag,
		Filters: body.Filters,
		Limit:   body.Limit,
		Offset:  body.Offset,
	})
	if err != nil {
		return writeError(c, statusFor(err), err)
	}

	resp := searchResponseBody{Status: "success"}
	for _, h := range hits {
		resp.Results = append(resp.Results, searchHitFrom(h))
	}
	return c.JSON(http.StatusOK, resp)
}

func searchHitFrom(h vectorstore.Hit) searchHitBody {
	return searchHitBody{PointID: h.PointID, Payload: h.Payload}
}

type loginRequestBody struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponseBody struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var body loginRequestBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, gateway.ErrInvalidInput)
	}

	token, err := s.gateway.Login(body.Username, body.Password)
	if err != nil {
		return writeError(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, loginResponseBody{AccessToken: token, TokenType: "bearer"})
}

type registerRequestBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type registerResponseBody struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var body registerRequestBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, gateway.ErrInvalidInput)
	}

	u, err := s.gateway.Register(body.Email, body.Password, body.FullName)
	if err != nil {
		return writeError(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, registerResponseBody{UserID: u.ID, Email: u.Email})
}

type healthResponseBody struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.gateway.Health(c.Request().Context())
	status := "ok"
	if h.VectorStore != "ok" || h.MetadataStore != "ok" {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, healthResponseBody{
		Status: status,
		Services: map[string]string{
			"vector_store":   h.VectorStore,
			"metadata_store": h.MetadataStore,
			"embedder":       h.Embedder,
		},
	})
}
