package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/mindgains/orchestrator/internal/provider"
)

const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// TaskRequest is one unit of generation work. It is never persisted.
type TaskRequest struct {
	Category    provider.TaskCategory `json:"task_type" validate:"required,task_category"`
	Prompt      string                `json:"prompt" validate:"required"`
	MaxTokens   int                   `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=32000"`
	Temperature *float64              `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	// Priority is a hint only; it does not affect scheduling.
	Priority Priority `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("task_category", func(fl validator.FieldLevel) bool {
		return provider.TaskCategory(fl.Field().String()).Valid()
	})
	return v
}

func (r TaskRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (r TaskRequest) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

func (r TaskRequest) temperature() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// TaskResult is the uniform outcome of one TaskRequest.
type TaskResult struct {
	Success  bool          `json:"success"`
	Content  string        `json:"data,omitempty"`
	Provider provider.ID   `json:"model_used"`
	Duration time.Duration `json:"-"`
	// EstimatedTokens is a rough characters/4 estimate, not tokenizer output.
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`
	FallbackUsed    bool   `json:"fallback_used,omitempty"`
	Error           string `json:"error,omitempty"`
	Err             error  `json:"-"`
}

func (r TaskResult) MarshalJSON() ([]byte, error) {
	type alias TaskResult
	return json.Marshal(struct {
		alias
		ExecutionTimeMs int64 `json:"execution_time_ms"`
	}{alias(r), r.Duration.Milliseconds()})
}

func (r *TaskResult) UnmarshalJSON(data []byte) error {
	type alias TaskResult
	aux := struct {
		*alias
		ExecutionTimeMs int64 `json:"execution_time_ms"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Duration = time.Duration(aux.ExecutionTimeMs) * time.Millisecond
	if r.Error != "" && r.Err == nil {
		r.Err = errors.New(r.Error)
	}
	return nil
}

func successResult(id provider.ID, content, prompt string, started time.Time) TaskResult {
	return TaskResult{
		Success:         true,
		Content:         content,
		Provider:        id,
		Duration:        time.Since(started),
		EstimatedTokens: EstimateTokens(content) + EstimateTokens(prompt),
	}
}

func failureResult(id provider.ID, err error, started time.Time) TaskResult {
	return TaskResult{
		Provider: id,
		Duration: time.Since(started),
		Error:    err.Error(),
		Err:      err,
	}
}

// EstimateTokens approximates a token count at four characters per token,
// rounding up. It is a heuristic for budgeting, not real tokenization.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}
