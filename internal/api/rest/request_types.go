package rest

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/performance-control-loop/internal/domain/alert"
	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

const maxBodySize = 1 << 20

// CreateRuleRequest registers an alert rule. Cooldown is a Go duration
// string; empty selects the category default.
type CreateRuleRequest struct {
	ID         string            `json:"id,omitempty" validate:"omitempty,max=64"`
	Name       string            `json:"name" validate:"required,max=128"`
	Thresholds []alert.Threshold `json:"metric_thresholds" validate:"required,min=1,dive"`
	Severity   alert.Severity    `json:"severity"`
	Category   alert.Category    `json:"category"`
	Cooldown   string            `json:"cooldown,omitempty" validate:"omitempty,duration"`
	Enabled    *bool             `json:"enabled,omitempty"`
}

// Rule builds the domain rule. The request must already be validated.
func (req *CreateRuleRequest) Rule() *alert.Rule {
	var cooldown time.Duration
	if req.Cooldown != "" {
		cooldown, _ = time.ParseDuration(req.Cooldown)
	}
	rule := alert.NewRule(req.Name, req.Category, req.Severity, cooldown, req.Thresholds...)
	if req.ID != "" {
		rule.ID = req.ID
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	return rule
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SetStrategyRequest struct {
	Strategy string `json:"strategy" validate:"required,strategy"`
}

// PutScheduleRequest creates or replaces a named schedule. Enabled defaults
// to true.
type PutScheduleRequest struct {
	Job     string `json:"job" validate:"required"`
	Tier    string `json:"tier" validate:"required,tier"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IngestRequest carries a batch of interactions for one unit.
type IngestRequest struct {
	Interactions []InteractionInput `json:"interactions" validate:"required,min=1,max=1000,dive"`
}

type InteractionInput struct {
	Timestamp      time.Time `json:"timestamp" validate:"required"`
	Quality        float64   `json:"quality" validate:"gte=0,lte=1"`
	LatencySeconds float64   `json:"latency_seconds" validate:"gte=0"`
	Error          bool      `json:"error"`
	Tags           []string  `json:"tags,omitempty" validate:"max=16,dive,max=64"`
}

func (req *IngestRequest) Samples() []sample.Interaction {
	out := make([]sample.Interaction, len(req.Interactions))
	for i, in := range req.Interactions {
		out[i] = sample.Interaction{
			Timestamp:      in.Timestamp,
			Quality:        in.Quality,
			LatencySeconds: in.LatencySeconds,
			Error:          in.Error,
			Tags:           in.Tags,
		}
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", validateDuration)
	_ = v.RegisterValidation("strategy", validateStrategy)
	_ = v.RegisterValidation("tier", validateTier)
	return v
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateStrategy(fl validator.FieldLevel) bool {
	_, err := optimization.ParseStrategy(fl.Field().String())
	return err == nil
}

func validateTier(fl validator.FieldLevel) bool {
	_, err := scheduler.ParseTier(fl.Field().String())
	return err == nil
}

// decode reads a JSON body into v and validates it. A non-nil fields map
// means the body was well formed but invalid.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) (map[string][]string, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, errors.NewValidationError("INVALID_BODY", "request body is required")
		}
		return nil, errors.NewValidationError("INVALID_BODY", fmt.Sprintf("malformed request body: %v", err))
	}

	err := s.validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return nil, errors.NewValidationError("INVALID_BODY", err.Error())
	}
	fields := make(map[string][]string)
	for _, fe := range verrs {
		// Drop the request type name: "CreateRuleRequest.name" -> "name".
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		fields[key] = append(fields[key], fe.Tag())
	}
	return fields, nil
}
