package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"otdops/internal/advisory"
	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/repo"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks, newest first",
	}, func(ctx context.Context, input *struct {
		NodeID   string `query:"node_id"`
		RuleID   string `query:"rule_id"`
		Status   string `query:"status" enum:"pending,in_progress,completed"`
		Assignee string `query:"assignee"`
		Open     bool   `query:"open"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			NodeID:   input.NodeID,
			RuleID:   input.RuleID,
			Status:   input.Status,
			Assignee: input.Assignee,
			OpenOnly: input.Open,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a task by hand",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, input.Body.options(actorID))
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
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit or transition a task",
		Description: "Statuses only move forward. Moving to completed requires feedback; completed tasks are immutable.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, input.Body.options(input.ID, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete a task with root-cause feedback",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, input.ID, input.Body.feedback(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-task-feedback",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/feedback",
		Summary:     "Replace the feedback of a completed task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RecordFeedback(ctx, input.ID, *input.Body.feedback(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advise-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/advise",
		Summary:     "Ask the advisory service for an SOP checklist",
		Description: "Advisory output is free text and never changes state. An unreachable provider yields available=false.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body advisory.Result `json:"body"`
	}, error) {
		res, err := e.AdviseTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body advisory.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerSOPs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sops",
		Method:      http.MethodGet,
		Path:        "/sops",
		Summary:     "List SOPs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.SOP `json:"body"`
	}, error) {
		items, err := e.ListSOPs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SOP `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sop",
		Method:      http.MethodGet,
		Path:        "/sops/{id}",
		Summary:     "Get SOP",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.SOP `json:"body"`
	}, error) {
		s, err := e.ResolveSOP(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SOP `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-sop",
		Method:      http.MethodPut,
		Path:        "/sops/{id}",
		Summary:     "Create or replace SOP",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body PutSOPRequest `json:"body"`
	}) (*struct {
		Body domain.SOP `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.PutSOP(ctx, domain.SOP{ID: input.ID, Title: input.Body.Title, Content: input.Body.Content, Steps: input.Body.Steps}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SOP `json:"body"`
		}{Body: s}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Roles: p.Roles, Source: p.Source}}, nil
	})
}
