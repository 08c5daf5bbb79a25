package server

import (
	"bytes"
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

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"todoline/internal/domain"
	"todoline/internal/engine"
	"todoline/internal/logging"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task 42: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// service serializes every call into the engine, which is single-owner.
type service struct {
	mu     sync.Mutex
	eng    *engine.Engine
	logger *log.Logger
}

func (s *service) do(fn func(e *engine.Engine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.eng)
	if err := s.eng.StorageErr(); err != nil {
		s.logger.Warn("task list not persisted", "err", err)
	}
}

// New returns an HTTP handler exposing the to-do API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Todoline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	svc := &service{eng: cfg.Engine, logger: logger}
	registerDocs(router, basePath)
	registerHealth(group, svc)
	registerTasks(group, svc)
	registerMoves(group, svc)
	registerHistory(group, svc)
	registerTransfer(group, svc)
	registerOpenAPI(router, api, basePath, cfg.Auth)

	return router, nil
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			fields := []any{"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start)}
			if p, ok := principalFromContext(r.Context()); ok {
				fields = append(fields, "sub", p.Subject)
			}
			logger.Debug("request", fields...)
		})
	}
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Message})
	}
	var se *engine.SchemaError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, "invalid_document", err.Error(), map[string]any{"problems": se.Problems})
	}
	if errors.Is(err, engine.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAmbiguous) {
		return newAPIError(http.StatusBadRequest, "ambiguous_reference", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, auth AuthConfig) {
	var (
		once sync.Once
		body []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if auth.Enabled() {
				applyAuthSecurity(oas, basePath)
			}
			body, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Todoline API Docs</title>
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
  </body>
</html>`, specURL)
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API, svc *service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		status := "ok"
		var storageErr error
		svc.do(func(e *engine.Engine) { storageErr = e.StorageErr() })
		if storageErr != nil {
			status = "degraded"
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": status}}, nil
	})
}

type taskPath struct {
	ID string `path:"id"`
}

type mutationOutput struct {
	Body MutationResponse `json:"body"`
}

func changed(ok bool) *mutationOutput {
	return &mutationOutput{Body: MutationResponse{Changed: ok}}
}

func counted(n int) *mutationOutput {
	return &mutationOutput{Body: MutationResponse{Changed: n > 0, Count: n}}
}

func registerTasks(api huma.API, svc *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks in storage order with their groups",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		var res TaskListResponse
		svc.do(func(e *engine.Engine) {
			res = TaskListResponse{
				Items: nonNil(e.Tasks()),
				Groups: TaskGroupsResponse{
					Active:    nonNil(e.Active()),
					Completed: nonNil(e.Completed()),
				},
				CanUndo: e.CanUndo(),
				CanRedo: e.CanRedo(),
			}
		})
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		var (
			t   domain.Task
			err error
		)
		svc.do(func(e *engine.Engine) {
			t, err = e.Add(engine.AddOptions{
				Label:       input.Body.Label,
				Description: input.Body.Description,
				Insert:      input.Body.Position,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		var (
			t  domain.Task
			ok bool
		)
		svc.do(func(e *engine.Engine) { t, ok = e.Get(input.ID) })
		if !ok {
			return nil, handleError(fmt.Errorf("task %s: %w", input.ID, engine.ErrNotFound))
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit, complete or reopen a task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*mutationOutput, error) {
		var (
			t   domain.Task
			ok  bool
			err error
		)
		svc.do(func(e *engine.Engine) { t, ok, err = e.Edit(input.ID, input.Body.patch()) })
		if err != nil {
			return nil, handleError(err)
		}
		out := changed(ok)
		if ok {
			out.Body.Task = &t
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
	}, func(ctx context.Context, input *taskPath) (*mutationOutput, error) {
		var ok bool
		svc.do(func(e *engine.Engine) { ok = e.Remove(input.ID) })
		return changed(ok), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-all-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/complete-all",
		Summary:     "Mark every active task completed",
	}, func(ctx context.Context, _ *struct{}) (*mutationOutput, error) {
		var n int
		svc.do(func(e *engine.Engine) { n = e.CompleteAll() })
		return counted(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/delete",
		Summary:     "Delete several tasks",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body DeleteTasksRequest `json:"body"`
	}) (*mutationOutput, error) {
		var n int
		svc.do(func(e *engine.Engine) { n = e.RemoveMany(input.Body.IDs) })
		return counted(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-tasks",
		Method:      http.MethodDelete,
		Path:        "/tasks",
		Summary:     "Delete every task, or every task of one group",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Group string `query:"group" enum:"active,completed"`
	}) (*mutationOutput, error) {
		var n int
		if input.Group == "" {
			svc.do(func(e *engine.Engine) { n = e.Clear() })
			return counted(n), nil
		}
		g, err := domain.ParseGroup(input.Group)
		if err != nil {
			return nil, handleError(err)
		}
		svc.do(func(e *engine.Engine) { n = e.ClearGroup(g) })
		return counted(n), nil
	})
}

func registerMoves(api huma.API, svc *service) {
	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/move",
		Summary:     "Move a task within its group",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveTaskRequest `json:"body"`
	}) (*mutationOutput, error) {
		req := input.Body
		if (req.To == "") == (req.Index == nil) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "exactly one of to or index is required", map[string]any{"field": "to"})
		}
		var ok bool
		svc.do(func(e *engine.Engine) {
			switch {
			case req.Index != nil:
				ok = e.MoveTo(input.ID, *req.Index)
			case req.To == "top":
				ok = e.MoveToTop(input.ID)
			case req.To == "bottom":
				ok = e.MoveToBottom(input.ID)
			case req.To == "up":
				ok = e.MoveUp(input.ID)
			case req.To == "down":
				ok = e.MoveDown(input.ID)
			}
		})
		return changed(ok), nil
	})
}

func registerHistory(api huma.API, svc *service) {
	type historyOutput struct {
		Body HistoryResponse `json:"body"`
	}
	snapshot := func(e *engine.Engine) HistoryResponse {
		return HistoryResponse{
			Items:   snapshotResponses(e.History(), e.HistoryIndex()),
			Index:   e.HistoryIndex(),
			CanUndo: e.CanUndo(),
			CanRedo: e.CanRedo(),
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "List snapshots, oldest first",
	}, func(ctx context.Context, _ *struct{}) (*historyOutput, error) {
		var res HistoryResponse
		svc.do(func(e *engine.Engine) { res = snapshot(e) })
		return &historyOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undo",
		Method:      http.MethodPost,
		Path:        "/history/undo",
		Summary:     "Undo the last action",
	}, func(ctx context.Context, _ *struct{}) (*mutationOutput, error) {
		var ok bool
		svc.do(func(e *engine.Engine) { ok = e.Undo() })
		return changed(ok), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "redo",
		Method:      http.MethodPost,
		Path:        "/history/redo",
		Summary:     "Redo the next action",
	}, func(ctx context.Context, _ *struct{}) (*mutationOutput, error) {
		var ok bool
		svc.do(func(e *engine.Engine) { ok = e.Redo() })
		return changed(ok), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-snapshot",
		Method:      http.MethodPost,
		Path:        "/history/{id}/restore",
		Summary:     "Restore the snapshot offset positions away from a snapshot",
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Offset int    `query:"offset"`
	}) (*mutationOutput, error) {
		var ok bool
		svc.do(func(e *engine.Engine) { ok = e.Restore(input.ID, input.Offset) })
		return changed(ok), nil
	})
}

func registerTransfer(api huma.API, svc *service) {
	huma.Register(api, huma.Operation{
		OperationID: "export",
		Method:      http.MethodGet,
		Path:        "/export",
		Summary:     "Export every task as a document",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Document `json:"body"`
	}, error) {
		var doc engine.Document
		svc.do(func(e *engine.Engine) { doc = e.Export() })
		doc.Tasks = nonNil(doc.Tasks)
		return &struct {
			Body engine.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import",
		Method:      http.MethodPost,
		Path:        "/import",
		Summary:     "Import a document produced by export",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Mode string `query:"mode" enum:"replace,append"`
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		body := bodyBytes(ctx)
		if len(body) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		doc, err := engine.ParseDocument(body)
		if err != nil {
			return nil, handleError(err)
		}
		mode := input.Mode
		if mode == "" {
			mode = engine.ImportReplace
		}
		var n int
		svc.do(func(e *engine.Engine) { n, err = e.Import(doc, mode) })
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportResponse `json:"body"`
		}{Body: ImportResponse{Mode: mode, Imported: n}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if v := ctx.Value(bodyBytesKey{}); v != nil {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}
