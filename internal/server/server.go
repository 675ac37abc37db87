package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/engine"
	"submit/internal/ratelimit"
	"submit/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// LineChannelSecret verifies X-Line-Signature on the webhook.
	LineChannelSecret string
	Limiter           ratelimit.Limiter
	WebhookRule       ratelimit.Rule
	APIRule           ratelimit.Rule
	// AuthRule limits token minting per client address.
	AuthRule ratelimit.Rule
	// TrustProxy takes the client address from proxy headers. Only set it
	// when a proxy in front of the server overwrites them.
	TrustProxy bool
	Log        *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"pledge_required"`
	Message string         `json:"message" example:"pledge required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"penalty_amount\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type bodyOutput[T any] struct {
	Body T
}

func respond[T any](v T) *bodyOutput[T] { return &bodyOutput[T]{Body: v} }

// New returns an HTTP handler exposing the submit API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.APIRule.Limit <= 0 {
		cfg.APIRule = ratelimit.API
	}
	if cfg.WebhookRule.Limit <= 0 {
		cfg.WebhookRule = ratelimit.LineWebhook
	}
	if cfg.AuthRule.Limit <= 0 {
		cfg.AuthRule = ratelimit.Auth
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	webhookPath := path.Join(basePath, "line/webhook")
	router := chi.NewRouter()
	router.Use(requestLogger(log, cfg.TrustProxy))
	router.Use(rateLimitMiddleware(cfg, basePath, log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, log))
	hcfg := huma.DefaultConfig("Submit API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)
	h := handlers{e: cfg.Engine, log: log}

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, h)
	registerPledge(group, h)
	registerProjects(group, h)
	registerSubmissions(group, h)
	registerLogs(group, h)
	registerMemos(group, h)
	registerPartners(group, h)
	registerCron(group, h)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, h, cfg.Auth)
	}
	router.Post(webhookPath, lineWebhookHandler(cfg.Engine, cfg.LineChannelSecret, cfg.TrustProxy, log))
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	e   engine.Engine
	log *zap.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		var details map[string]any
		if verr.Field != "" {
			details = map[string]any{"field": verr.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", verr.Error(), details)
	}
	switch {
	case errors.Is(err, engine.ErrPledgeRequired):
		return newAPIError(http.StatusForbidden, "pledge_required", "complete the pledge first", nil)
	case errors.Is(err, engine.ErrForbidden):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrDuplicate):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	}
	h.log.Error("request failed", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("latency", time.Since(start)),
				zap.String("client_ip", ratelimit.ClientIP(r, trustProxy)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// rateLimitMiddleware applies the webhook rule to the LINE webhook, the
// auth rule to token minting and the API rule everywhere else.
func rateLimitMiddleware(cfg Config, basePath string, log *zap.Logger) func(http.Handler) http.Handler {
	webhookPath := path.Join(basePath, "line/webhook")
	loginPath := path.Join(basePath, "auth/dev/login")
	return func(next http.Handler) http.Handler {
		if cfg.Limiter == nil {
			return next
		}
		hook := ratelimit.Middleware(cfg.Limiter, cfg.WebhookRule, ratelimit.ByIP("line", cfg.TrustProxy), log)(next)
		login := ratelimit.Middleware(cfg.Limiter, cfg.AuthRule, ratelimit.ByIP("auth", cfg.TrustProxy), log)(next)
		api := ratelimit.Middleware(cfg.Limiter, cfg.APIRule, ratelimit.ByIP("api", cfg.TrustProxy), log)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case webhookPath:
				hook.ServeHTTP(w, r)
			case loginPath:
				login.ServeHTTP(w, r)
			default:
				api.ServeHTTP(w, r)
			}
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		// The document is built on first use, after every route is registered.
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["cronAuth"] = &huma.SecurityScheme{
		Type:   "http",
		Scheme: "bearer",
	}
	user := []map[string][]string{{"bearerAuth": {}}}
	cron := []map[string][]string{{"cronAuth": {}}}
	oas.Security = user
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	cronPrefix := path.Join(basePath, "cron") + "/"
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			switch {
			case open[route]:
				op.Security = []map[string][]string{}
			case strings.HasPrefix(route, cronPrefix):
				op.Security = cron
			default:
				op.Security = user
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Submit API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[map[string]string], error) {
		return respond(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[domain.User], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.GetUser(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPatch,
		Path:        "/me",
		Summary:     "Update profile and notification preferences",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpdateMeRequest
	}) (*bodyOutput[domain.User], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.UpdateProfile(ctx, userID, engine.ProfileUpdateOptions{
			Name:          input.Body.Name,
			NotifyMorning: input.Body.NotifyMorning,
			NotifyEvening: input.Body.NotifyEvening,
			NotifyUrgent:  input.Body.NotifyUrgent,
			Timezone:      input.Body.Timezone,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "link-line",
		Method:      http.MethodPost,
		Path:        "/me/line",
		Summary:     "Link a LINE account",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body LinkLineRequest
	}) (*bodyOutput[domain.User], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.LinkLine(ctx, userID, input.Body.LineUserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlink-line",
		Method:      http.MethodDelete,
		Path:        "/me/line",
		Summary:     "Unlink the LINE account",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[domain.User], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.UnlinkLine(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(u), nil
	})
}

func registerPledge(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-pledge",
		Method:      http.MethodGet,
		Path:        "/pledge",
		Summary:     "Pledge status",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[PledgeStatusResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ok, p, err := h.e.PledgeStatus(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(PledgeStatusResponse{Pledged: ok, Pledge: p}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-pledge",
		Method:        http.MethodPost,
		Path:          "/pledge",
		Summary:       "Take the pledge",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PledgeRequest
	}) (*bodyOutput[domain.Pledge], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.Pledge(ctx, userID, engine.PledgeOptions{
			PledgeText:      input.Body.PledgeText,
			AgreedToTerms:   input.Body.AgreedToTerms,
			AgreedToPenalty: input.Body.AgreedToPenalty,
			AgreedToLine:    input.Body.AgreedToLine,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(p), nil
	})
}

func registerProjects(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*bodyOutput[domain.Project], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := h.e.CreateProject(ctx, engine.ProjectCreateOptions{
			UserID:        userID,
			Name:          input.Body.Name,
			Description:   desc,
			Frequency:     input.Body.Frequency,
			JudgmentDay:   input.Body.JudgmentDay,
			CustomDays:    input.Body.CustomDays,
			PenaltyAmount: input.Body.PenaltyAmount,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"active, paused or archived"`
	}) (*bodyOutput[ProjectListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListProjects(ctx, userID, input.Status)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(ProjectListResponse{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Project], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.GetProject(ctx, userID, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateProjectRequest
	}) (*bodyOutput[domain.Project], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			UserID:        userID,
			ID:            input.ID,
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			PenaltyAmount: input.Body.PenaltyAmount,
			Status:        input.Body.Status,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteProject(ctx, userID, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-events",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/events",
		Summary:     "Project audit trail",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*bodyOutput[EventListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ProjectEvents(ctx, userID, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(EventListResponse{Items: nonNil(items)}), nil
	})
}

func registerSubmissions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Record a submission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest
	}) (*bodyOutput[engine.SubmissionResult], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.CreateSubmission(ctx, engine.SubmissionCreateOptions{
			UserID:    userID,
			ProjectID: input.Body.ProjectID,
			Content:   input.Body.Content,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*bodyOutput[SubmissionListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListSubmissions(ctx, userID, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(SubmissionListResponse{Items: nonNil(items)}), nil
	})
}

func registerLogs(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-judgments",
		Method:      http.MethodGet,
		Path:        "/judgments",
		Summary:     "List judgment history",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*bodyOutput[JudgmentListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListJudgments(ctx, userID, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(JudgmentListResponse{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-penalties",
		Method:      http.MethodGet,
		Path:        "/penalties",
		Summary:     "List penalties",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*bodyOutput[PenaltyListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListPenalties(ctx, userID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(PenaltyListResponse{Items: nonNil(items)}), nil
	})
}

func registerMemos(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-memo",
		Method:        http.MethodPost,
		Path:          "/memos",
		Summary:       "Create memo",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateMemoRequest
	}) (*bodyOutput[domain.Memo], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.e.CreateMemo(ctx, userID, input.Body.Content, input.Body.Type, input.Body.Tags)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-memos",
		Method:      http.MethodGet,
		Path:        "/memos",
		Summary:     "List memos",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*bodyOutput[MemoListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListMemos(ctx, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(MemoListResponse{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-memo",
		Method:        http.MethodDelete,
		Path:          "/memos/{id}",
		Summary:       "Delete memo",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteMemo(ctx, userID, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, h handlers, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*bodyOutput[DevLoginResponse], error) {
		u, err := h.e.EnsureUser(ctx, input.Body.Email, input.Body.Name)
		if err != nil {
			return nil, h.handleError(err)
		}
		token, err := SignToken(authCfg.JWTSecret, u.ID, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return respond(DevLoginResponse{Token: token, UserID: u.ID, User: u}), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
