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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gtmq/internal/domain"
	"gtmq/internal/engine"
	"gtmq/internal/executor"
	"gtmq/internal/guard"
	"gtmq/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Exec     *executor.Executor
	Guard    *guard.State
	Limits   *guard.RateLimiter
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"rate_limited"`
	Message string         `json:"message" example:"recipient rate limit exhausted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the gtmq API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("gtmq API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine, cfg.Exec)
	registerSignals(group, cfg.Engine)
	registerQueue(group, cfg.Engine)
	registerExecute(group, cfg.Engine, cfg.Exec)
	registerRollback(group, cfg.Exec)
	registerGuard(group, cfg.Engine, cfg.Guard, cfg.Limits)
	registerAudit(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrInvalidTransition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	if errors.Is(err, executor.ErrInvalidActionType) {
		return newAPIError(http.StatusBadRequest, "invalid_action_type", err.Error(), nil)
	}
	if errors.Is(err, executor.ErrInvalidInput) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
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

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

// requireAdmin gates privileged boundaries: kill switch, API keys. Admin
// comes from a JWT role claim, the config admin list, or the operators
// registry.
func requireAdmin(ctx context.Context, e engine.Engine) (string, huma.StatusError) {
	actor, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if p, ok := principalFromContext(ctx); ok && p.hasRole("admin") {
		return actor, nil
	}
	if e.Config != nil && e.Config.IsAdmin(actor) {
		return actor, nil
	}
	if op, err := e.Repo.GetOperator(ctx, actor); err == nil && op.Role == "admin" {
		return actor, nil
	}
	return "", newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
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
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>gtmq API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine, exec *executor.Executor) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Queue status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body QueueStatusResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountItemsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueueStatusResponse `json:"body"`
		}{Body: QueueStatusResponse{
			Queue:       e.Config.Queue.Name,
			ItemCounts:  counts,
			ActionTypes: exec.Handlers.Registered(),
		}}, nil
	})
}

func registerSignals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-signal",
		Method:        http.MethodPost,
		Path:          "/signals",
		Summary:       "Ingest signal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body IngestRequest `json:"body"`
	}) (*struct {
		Body IngestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Ingest(ctx, actor, domain.RawEvent{
			Source:     input.Body.Source,
			EventType:  input.Body.EventType,
			EntityID:   input.Body.EntityID,
			DetectedAt: input.Body.DetectedAt,
			Payload:    input.Body.Payload,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IngestResponse `json:"body"`
		}{Body: IngestResponse{
			Signal:    res.Signal,
			Item:      res.Item,
			Duplicate: !res.Created,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signals",
		Method:      http.MethodGet,
		Path:        "/signals",
		Summary:     "List signals",
	}, func(ctx context.Context, input *struct {
		Source    string `query:"source"`
		EventType string `query:"event_type"`
		EntityID  string `query:"entity_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Signal `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListSignals(ctx, repo.SignalFilters{
			Source:    input.Source,
			EventType: input.EventType,
			EntityID:  input.EntityID,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Signal `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-signal",
		Method:      http.MethodGet,
		Path:        "/signals/{signal_id}",
		Summary:     "Get signal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SignalID string `path:"signal_id"`
	}) (*struct {
		Body domain.Signal `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetSignal(ctx, input.SignalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Signal `json:"body"`
		}{Body: s}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "List queue items by priority",
	}, func(ctx context.Context, input *struct {
		Status     string  `query:"status" enum:"pending,accepted,dismissed,snoozed,executed"`
		ActionType string  `query:"action_type"`
		MinScore   float64 `query:"min_score"`
		Limit      int     `query:"limit"`
	}) (*struct {
		Body []domain.QueueItem `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// Wake expired snoozes first so the listing never shows an item
		// as snoozed past its snooze_until.
		if _, err := e.WakeSnoozed(ctx, actor); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListQueueItems(ctx, repo.QueueFilters{
			Status:     input.Status,
			ActionType: input.ActionType,
			MinScore:   input.MinScore,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.QueueItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-queue-item",
		Method:      http.MethodGet,
		Path:        "/queue/{item_id}",
		Summary:     "Get queue item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.QueueItem `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		it, err := e.Repo.GetQueueItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueItem `json:"body"`
		}{Body: it}, nil
	})

	transition := func(opID, pathSuffix, target, summary string) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/queue/{item_id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ItemID string `path:"item_id"`
		}) (*struct {
			Body domain.QueueItem `json:"body"`
		}, error) {
			actor, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			it, err := e.Transition(ctx, input.ItemID, target, actor, nil)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.QueueItem `json:"body"`
			}{Body: it}, nil
		})
	}
	transition("accept-queue-item", "accept", domain.StatusAccepted, "Accept queue item")
	transition("dismiss-queue-item", "dismiss", domain.StatusDismissed, "Dismiss queue item")

	huma.Register(api, huma.Operation{
		OperationID: "snooze-queue-item",
		Method:      http.MethodPost,
		Path:        "/queue/{item_id}/snooze",
		Summary:     "Snooze queue item until a wake time",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string        `path:"item_id"`
		Body   SnoozeRequest `json:"body"`
	}) (*struct {
		Body domain.QueueItem `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Until == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "until is required", nil)
		}
		until, err := time.Parse(time.RFC3339, input.Body.Until)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "until must be RFC3339", nil)
		}
		it, err := e.Transition(ctx, input.ItemID, domain.StatusSnoozed, actor, &until)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rescore-queue-item",
		Method:      http.MethodPost,
		Path:        "/queue/{item_id}/rescore",
		Summary:     "Recompute priority score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.QueueItem `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.Rescore(ctx, input.ItemID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueItem `json:"body"`
		}{Body: it}, nil
	})
}

func registerExecute(api huma.API, e engine.Engine, exec *executor.Executor) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-queue-item",
		Method:      http.MethodPost,
		Path:        "/queue/{item_id}/execute",
		Summary:     "Execute the item's recommended action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string         `path:"item_id"`
		Body   ExecuteRequest `json:"body"`
	}) (*struct {
		Body domain.ActionResult `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.Repo.GetQueueItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := exec.Execute(ctx, domain.ActionRequest{
			QueueItemID:    item.ID,
			ActionType:     item.ActionType,
			Context:        input.Body.Context,
			DryRun:         input.Body.DryRun,
			Operator:       actor,
			IdempotencyKey: input.Body.IdempotencyKey,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerRollback(api huma.API, exec *executor.Executor) {
	huma.Register(api, huma.Operation{
		OperationID: "rollback",
		Method:      http.MethodPost,
		Path:        "/rollback",
		Summary:     "Redeem a rollback token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RollbackRequest `json:"body"`
	}) (*struct {
		Body RollbackResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Token == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		ok, err := exec.Rollback(ctx, input.Body.Token, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RollbackResponse `json:"body"`
		}{Body: RollbackResponse{RolledBack: ok}}, nil
	})
}

func registerGuard(api huma.API, e engine.Engine, state *guard.State, limits *guard.RateLimiter) {
	huma.Register(api, huma.Operation{
		OperationID: "guard-status",
		Method:      http.MethodGet,
		Path:        "/guard",
		Summary:     "Guard status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GuardStatusResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		active, reason := state.KillSwitchActive()
		return &struct {
			Body GuardStatusResponse `json:"body"`
		}{Body: GuardStatusResponse{
			KillSwitchActive: active,
			Reason:           reason,
			RateBuckets:      limits.Summary(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-kill-switch",
		Method:      http.MethodPost,
		Path:        "/guard/kill-switch",
		Summary:     "Toggle the execution kill switch",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body KillSwitchRequest `json:"body"`
	}) (*struct {
		Body GuardStatusResponse `json:"body"`
	}, error) {
		actor, authErr := requireAdmin(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := state.SetKillSwitch(ctx, input.Body.Active, input.Body.Reason, actor); err != nil {
			return nil, handleError(err)
		}
		active, reason := state.KillSwitchActive()
		return &struct {
			Body GuardStatusResponse `json:"body"`
		}{Body: GuardStatusResponse{KillSwitchActive: active, Reason: reason}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit events newest-first",
	}, func(ctx context.Context, input *struct {
		Actor    string `query:"actor"`
		Resource string `query:"resource"`
		Action   string `query:"action"`
		Status   string `query:"status"`
		Cursor   int64  `query:"cursor"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			Actor:    input.Actor,
			Resource: input.Resource,
			Action:   input.Action,
			Status:   input.Status,
			Cursor:   input.Cursor,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: events}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		rawKey := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(rawKey),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:      key.ID,
			ActorID: key.ActorID,
			Name:    key.Name,
			Key:     rawKey,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
