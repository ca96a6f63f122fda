package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/rules"
)

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules",
	}, func(ctx context.Context, input *struct {
		NodeID string `query:"node_id"`
	}) (*struct {
		Body []domain.Rule `json:"body"`
	}, error) {
		items, err := e.ListRules(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Rule `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateRule(ctx, input.Body.input(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{id}",
		Summary:     "Get rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		r, err := e.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{id}",
		Summary:     "Update rule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.UpdateRule(ctx, input.ID, input.Body.patch(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-rule",
		Method:        http.MethodDelete,
		Path:          "/rules/{id}",
		Summary:       "Delete rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRule(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rule-templates",
		Method:      http.MethodGet,
		Path:        "/rule-templates",
		Summary:     "List built-in rule templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []rules.Template `json:"body"`
	}, error) {
		return &struct {
			Body []rules.Template `json:"body"`
		}{Body: rules.Templates()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "apply-rule-template",
		Method:        http.MethodPost,
		Path:          "/rule-templates/{id}/apply",
		Summary:       "Create a rule on a node from a template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ApplyTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateRuleFromTemplate(ctx, input.ID, input.Body.RuleID, input.Body.NodeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: r}, nil
	})
}
