package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/brizzai/loopback-login/internal/logger"
	"github.com/brizzai/loopback-login/internal/utils"
	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"
)

//go:embed openapi.yaml
var openAPISource []byte

// LoadOpenAPI parses and validates the API description, stamping version
func LoadOpenAPI(version string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	if version != "" {
		doc.Info.Version = version
	}
	return doc, nil
}

func openAPIHandler(version string) http.HandlerFunc {
	doc, err := LoadOpenAPI(version)
	var body []byte
	if err == nil {
		body, err = json.Marshal(doc)
	}
	if err != nil {
		logger.Error("OpenAPI document unavailable", zap.Error(err))
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		if body == nil {
			utils.WriteError(w, "server_error", "OpenAPI document unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}
