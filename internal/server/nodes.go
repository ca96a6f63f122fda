package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"otdops/internal/advisory"
	"otdops/internal/domain"
	"otdops/internal/engine"
)

func registerNodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-nodes",
		Method:      http.MethodGet,
		Path:        "/nodes",
		Summary:     "List process nodes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ProcessNode `json:"body"`
	}, error) {
		nodes, err := e.ListNodes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProcessNode `json:"body"`
		}{Body: nodes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-node",
		Method:        http.MethodPost,
		Path:          "/nodes",
		Summary:       "Create process node",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateNodeRequest `json:"body"`
	}) (*struct {
		Body domain.ProcessNode `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.CreateNode(ctx, input.Body.options(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProcessNode `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-node",
		Method:      http.MethodGet,
		Path:        "/nodes/{id}",
		Summary:     "Get process node",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ProcessNode `json:"body"`
	}, error) {
		n, err := e.GetNode(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProcessNode `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-node",
		Method:        http.MethodDelete,
		Path:          "/nodes/{id}",
		Summary:       "Delete process node with its metrics, rules and tasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteNode(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-metric",
		Method:      http.MethodPut,
		Path:        "/nodes/{id}/metrics/{name}",
		Summary:     "Upsert a metric reading and recompute node status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Name string             `path:"name"`
		Body MetricValueRequest `json:"body"`
	}) (*struct {
		Body engine.MetricUpdate `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := MetricRequest{
			Name:    input.Name,
			Value:   input.Body.Value,
			Text:    input.Body.Text,
			Unit:    input.Body.Unit,
			Trend:   input.Body.Trend,
			Leading: input.Body.Leading,
		}
		upd, err := e.UpsertMetric(ctx, input.ID, in.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.MetricUpdate `json:"body"`
		}{Body: upd}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-node",
		Method:      http.MethodPost,
		Path:        "/nodes/{id}/evaluate",
		Summary:     "Evaluate the node's rules and generate tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		DryRun bool   `query:"dry_run"`
	}) (*struct {
		Body engine.EvaluationReport `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.EvaluateNode(ctx, input.ID, engine.EvaluateOptions{DryRun: input.DryRun, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EvaluationReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-all",
		Method:      http.MethodPost,
		Path:        "/evaluate",
		Summary:     "Evaluate every node",
	}, func(ctx context.Context, input *struct {
		DryRun bool `query:"dry_run"`
	}) (*struct {
		Body EvaluateAllResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reports, err := e.EvaluateAll(ctx, e.Config.Evaluation.Parallelism, engine.EvaluateOptions{DryRun: input.DryRun, ActorID: actorID})
		resp := EvaluateAllResponse{Reports: reports}
		if resp.Reports == nil {
			resp.Reports = []engine.EvaluationReport{}
		}
		if err != nil {
			resp.Errors = splitJoined(err)
		}
		return &struct {
			Body EvaluateAllResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-node",
		Method:      http.MethodPost,
		Path:        "/nodes/{id}/analyze",
		Summary:     "Ask the advisory service for a bottleneck analysis",
		Description: "Advisory output is free text and never changes state. An unreachable provider yields available=false.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body advisory.Result `json:"body"`
	}, error) {
		res, err := e.AnalyzeNode(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body advisory.Result `json:"body"`
		}{Body: res}, nil
	})
}

// splitJoined flattens an errors.Join result into messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
