package evalsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
)

// Service evaluates a single model configuration.
type Service interface {
	Evaluate(ctx context.Context, model modelconfig.ModelConfig) (evaluation.Record, error)
}

// wireRecord is the evaluation server's response body.
type wireRecord struct {
	Model  *modelconfig.ModelConfig `json:"model"`
	Status evaluation.Status        `json:"status"`
	Result evaluation.Metrics       `json:"result"`
}

// decodeRecord turns a response body into a record for the requested model.
func decodeRecord(body []byte, requested modelconfig.ModelConfig) (evaluation.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(body, &w); err != nil {
		return evaluation.Record{}, fmt.Errorf("decode evaluation: %w", err)
	}
	rec := evaluation.Record{
		Model:  requested,
		Status: w.Status,
		Result: w.Result,
	}
	if w.Model != nil && !w.Model.IsZero() {
		rec.Model = *w.Model
	}
	if rec.Status == "" {
		rec.Status = evaluation.StatusComplete
	}
	if !rec.Model.Equal(requested) {
		return evaluation.Record{}, fmt.Errorf("decode evaluation: server answered for %s, requested %s", rec.Model, requested)
	}
	return rec, nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
