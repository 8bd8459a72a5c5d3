// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openAPIDoc []byte

// validateEmbeddedOpenAPI loads and validates the embedded document
// describing the inspector's routes. Called once at NewServer time;
// a validation failure here means the doc drifted from the handlers
// it's meant to describe, which is a build-time bug, not something a
// deployed server should limp along with.
func validateEmbeddedOpenAPI() error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDoc)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
