package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"updock/internal/analytics"
	"updock/internal/domain"
	"updock/internal/engine"
	"updock/internal/repo"
	"updock/internal/upstream"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"intent not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the updock API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Method(http.MethodGet, path.Join("/", basePath, "metrics"), promhttp.Handler())

	hcfg := huma.DefaultConfig("updock API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerIntents(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerRun(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"endpoint": ue.Endpoint})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join("/", basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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

func registerIntents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-intents",
		Method:      http.MethodGet,
		Path:        "/intents",
		Summary:     "List intents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IntentListResponse `json:"body"`
	}, error) {
		items, err := e.ListIntents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Intent{}
		}
		return &struct {
			Body IntentListResponse `json:"body"`
		}{Body: IntentListResponse{Intents: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-intent",
		Method:        http.MethodPost,
		Path:          "/intents",
		Summary:       "Create intent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateIntentRequest `json:"body"`
	}) (*struct {
		Body domain.Intent `json:"body"`
	}, error) {
		criteria, err := criteriaFromRequest(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		enabled := false
		if input.Body.Enabled != nil {
			enabled = *input.Body.Enabled
		}
		in, err := e.CreateIntent(ctx, desc, criteria, enabled, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Intent `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-intent",
		Method:      http.MethodGet,
		Path:        "/intents/{intent_id}",
		Summary:     "Get intent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body domain.Intent `json:"body"`
	}, error) {
		in, err := e.GetIntent(ctx, input.IntentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Intent `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-match-intent",
		Method:      http.MethodPost,
		Path:        "/intents/{intent_id}/test-match",
		Summary:     "Dry-run evaluation of an intent against the live inventory",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body domain.MatchResult `json:"body"`
	}, error) {
		mr, err := e.TestMatch(ctx, input.IntentID)
		if err != nil {
			return nil, handleError(err)
		}
		if mr.Matches == nil {
			mr.Matches = []domain.MatchedContainer{}
		}
		return &struct {
			Body domain.MatchResult `json:"body"`
		}{Body: mr}, nil
	})

	for _, op := range []struct {
		id, pathSuffix, summary string
		enabled                 bool
	}{
		{"enable-intent", "enable", "Enable intent", true},
		{"disable-intent", "disable", "Disable intent", false},
	} {
		op := op
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/intents/{intent_id}/" + op.pathSuffix,
			Summary:     op.summary,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			IntentID string `path:"intent_id"`
		}) (*struct {
			Body domain.Intent `json:"body"`
		}, error) {
			in, err := e.SetIntentEnabled(ctx, input.IntentID, op.enabled, actorIDFromContext(ctx))
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Intent `json:"body"`
			}{Body: in}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "delete-intent",
		Method:        http.MethodDelete,
		Path:          "/intents/{intent_id}",
		Summary:       "Delete intent",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct{}, error) {
		if err := e.DeleteIntent(ctx, input.IntentID, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-upgrade-history",
		Method:      http.MethodGet,
		Path:        "/upgrade-history",
		Summary:     "Query the upgrade ledger",
	}, func(ctx context.Context, input *struct {
		Limit         int    `query:"limit" minimum:"0"`
		Offset        int    `query:"offset" minimum:"0"`
		ContainerName string `query:"containerName"`
		Status        string `query:"status" enum:",success,failed"`
		Endpoint      string `query:"endpoint"`
	}) (*struct {
		Body HistoryListResponse `json:"body"`
	}, error) {
		filters := repo.HistoryFilters{
			ContainerName: input.ContainerName,
			Status:        input.Status,
			Limit:         input.Limit,
			Offset:        input.Offset,
		}
		if input.Endpoint != "" {
			filters.Endpoints = domain.NewEndpointSet(strings.Split(input.Endpoint, ",")...)
		}
		items, err := e.Repo.ListUpgrades(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.UpgradeRecord{}
		}
		return &struct {
			Body HistoryListResponse `json:"body"`
		}{Body: HistoryListResponse{History: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upgrade-history-stats",
		Method:      http.MethodGet,
		Path:        "/upgrade-history/stats",
		Summary:     "Aggregate statistics over the upgrade ledger",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body analytics.Report `json:"body"`
	}, error) {
		report, err := e.AnalyticsReport(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body analytics.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-upgrade-record",
		Method:      http.MethodGet,
		Path:        "/upgrade-history/{record_id}",
		Summary:     "Get one upgrade record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordID string `path:"record_id"`
	}) (*struct {
		Body domain.UpgradeRecord `json:"body"`
	}, error) {
		rec, err := e.Repo.GetUpgrade(ctx, input.RecordID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UpgradeRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerRun(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-pass",
		Method:      http.MethodPost,
		Path:        "/run",
		Summary:     "Run one evaluation pass over all enabled intents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.PassResult `json:"body"`
	}, error) {
		res, err := e.RunPass(ctx, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		if res.Records == nil {
			res.Records = []domain.UpgradeRecord{}
		}
		return &struct {
			Body engine.PassResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent operational events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		items, err := e.Events.List(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: items}}, nil
	})
}
