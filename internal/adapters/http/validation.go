package httpadapter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
)

//go:embed openapi.yaml
var openAPIDocument []byte

const maxBodyBytes = 1 << 20

// requestValidator checks JSON request bodies against the embedded OpenAPI document.
type requestValidator struct {
	bodies map[string]*openapi3.RequestBody
}

func newRequestValidator(ctx context.Context) (*requestValidator, error) {
	doc, err := openapi3.NewLoader().LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}

	bodies := make(map[string]*openapi3.RequestBody)
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				bodies[method+" "+path] = op.RequestBody.Value
			}
		}
	}
	return &requestValidator{bodies: bodies}, nil
}

// validate returns a client-facing reason when the body does not match the operation schema.
// The body is left readable for the handler.
func (v *requestValidator) validate(r *http.Request, path string) error {
	body, ok := v.bodies[r.Method+" "+path]
	if !ok {
		return nil
	}
	if strings.TrimSpace(r.Header.Get("Content-Type")) == "" {
		r.Header.Set("Content-Type", "application/json")
	}
	input := &openapi3filter.RequestValidationInput{
		Request: r,
		Options: &openapi3filter.Options{MultiError: false},
	}
	if err := openapi3filter.ValidateRequestBody(r.Context(), input, body); err != nil {
		return errors.New(validationReason(err))
	}
	return nil
}

func validationReason(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			field := strings.Join(schemaErr.JSONPointer(), ".")
			if field == "" {
				return schemaErr.Reason
			}
			return field + ": " + schemaErr.Reason
		}
		if reqErr.Err != nil {
			return reqErr.Err.Error()
		}
		if reqErr.Reason != "" {
			return reqErr.Reason
		}
	}
	return err.Error()
}
