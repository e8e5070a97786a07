package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	// Events serves /events when the backend keeps a mutation log.
	Events *events.Writer
	Logger *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"schedule_conflict"`
	Message string         `json:"message" example:"schedule conflict: overlaps task 3"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// schema violations are plain bad requests
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerEpics(group, cfg.Engine)
	registerSubtasks(group, cfg.Engine)
	registerViews(group, cfg.Engine)
	registerEvents(group, cfg.Events)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrScheduleConflict):
		return newAPIError(http.StatusNotAcceptable, "schedule_conflict", msg, nil)
	case errors.Is(err, repo.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusNotAcceptable:
		return "schedule_conflict"
	case http.StatusConflict:
		return "conflict"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	errRef := api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas, errRef)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI, errRef *huma.Schema) {
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
					"application/json": {Schema: errRef},
				},
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
    <title>Taskline API Docs</title>
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

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*taskListBody, error) {
		return &taskListBody{Body: nonNil(e.ListTasks(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create or update task",
		Description: "Creates a task when id is zero or missing, otherwise updates the task with that id.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusNotAcceptable},
	}, func(ctx context.Context, input *struct {
		Body TaskRequest `json:"body"`
	}) (*taskBody, error) {
		var (
			t   = input.Body.task()
			err error
		)
		if t.ID == 0 {
			t, err = e.CreateTask(ctx, t)
		} else {
			t, err = e.UpdateTask(ctx, t)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Description: "Records the task in the view history.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*taskBody, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		_, err := e.DeleteTask(ctx, input.ID)
		return nil, ignoreNotFound(err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-tasks",
		Method:        http.MethodDelete,
		Path:          "/tasks",
		Summary:       "Delete all tasks",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, handleError(e.ClearTasks(ctx))
	})
}

func registerEpics(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-epics",
		Method:      http.MethodGet,
		Path:        "/epics",
		Summary:     "List epics",
	}, func(ctx context.Context, _ *struct{}) (*epicListBody, error) {
		return &epicListBody{Body: nonNil(e.ListEpics(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-epic",
		Method:      http.MethodPost,
		Path:        "/epics",
		Summary:     "Create or update epic",
		Description: "Only name and description are taken from the body; status and span follow the subtasks.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body EpicRequest `json:"body"`
	}) (*epicBody, error) {
		var (
			ep  = input.Body.epic()
			err error
		)
		if ep.ID == 0 {
			ep, err = e.CreateEpic(ctx, ep)
		} else {
			ep, err = e.UpdateEpic(ctx, ep)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &epicBody{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epic",
		Method:      http.MethodGet,
		Path:        "/epics/{id}",
		Summary:     "Get epic",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*epicBody, error) {
		ep, err := e.GetEpic(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &epicBody{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epic-subtasks",
		Method:      http.MethodGet,
		Path:        "/epics/{id}/subtasks",
		Summary:     "List subtasks of an epic",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*subtaskListBody, error) {
		subs, err := e.EpicSubtasks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &subtaskListBody{Body: nonNil(subs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-epic",
		Method:        http.MethodDelete,
		Path:          "/epics/{id}",
		Summary:       "Delete epic and its subtasks",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		_, err := e.DeleteEpic(ctx, input.ID)
		return nil, ignoreNotFound(err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-epics",
		Method:        http.MethodDelete,
		Path:          "/epics",
		Summary:       "Delete all epics and subtasks",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, handleError(e.ClearEpics(ctx))
	})
}

func registerSubtasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/subtasks",
		Summary:     "List subtasks",
	}, func(ctx context.Context, _ *struct{}) (*subtaskListBody, error) {
		return &subtaskListBody{Body: nonNil(e.ListSubtasks(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-subtask",
		Method:      http.MethodPost,
		Path:        "/subtasks",
		Summary:     "Create or update subtask",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusNotAcceptable},
	}, func(ctx context.Context, input *struct {
		Body SubtaskRequest `json:"body"`
	}) (*subtaskBody, error) {
		var (
			s   = input.Body.subtask()
			err error
		)
		if s.ID == 0 {
			s, err = e.CreateSubtask(ctx, s)
		} else {
			s, err = e.UpdateSubtask(ctx, s)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &subtaskBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subtask",
		Method:      http.MethodGet,
		Path:        "/subtasks/{id}",
		Summary:     "Get subtask",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*subtaskBody, error) {
		s, err := e.GetSubtask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &subtaskBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-subtask",
		Method:        http.MethodDelete,
		Path:          "/subtasks/{id}",
		Summary:       "Delete subtask",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		_, err := e.DeleteSubtask(ctx, input.ID)
		return nil, ignoreNotFound(err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-subtasks",
		Method:        http.MethodDelete,
		Path:          "/subtasks",
		Summary:       "Delete all subtasks",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, handleError(e.ClearSubtasks(ctx))
	})
}

func registerViews(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Recently viewed entities, oldest view first",
	}, func(ctx context.Context, _ *struct{}) (*itemListBody, error) {
		return &itemListBody{Body: domain.Items(e.History(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prioritized",
		Method:      http.MethodGet,
		Path:        "/prioritized",
		Summary:     "Scheduled tasks and subtasks by start time",
	}, func(ctx context.Context, _ *struct{}) (*itemListBody, error) {
		return &itemListBody{Body: domain.Items(e.Prioritized(ctx))}, nil
	})
}

func registerEvents(api huma.API, w *events.Writer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest mutation events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"500"`
	}) (*eventListBody, error) {
		if w == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "event log requires the sqlite backend", nil)
		}
		evts, err := w.Tail(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventListBody{Body: nonNil(evts)}, nil
	})
}

// ignoreNotFound makes deletes idempotent.
func ignoreNotFound(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return handleError(err)
}
