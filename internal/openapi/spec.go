// Package openapi builds the OpenAPI 3.1 document describing the HTTP API.
package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Spec generates the API document. The result is static per process; the
// server builds it once and serves the cached encoding.
func Spec(version, baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Bloom API",
			Description: "Flower shop storefront and admin API: blog, portfolio, catalog, sales CRM, webhooks, and API token management.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "http",
				Scheme:      "bearer",
				Description: "Admin session JWT or API token (tk_ prefixed), both on the Authorization header.",
			},
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    schemaOf("integer"),
							"message": schemaOf("string"),
						},
					},
				},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()

	// Public surface.
	addPath(doc, "/healthz", "get", "Liveness probe", false)
	addPath(doc, "/readyz", "get", "Readiness probe, pings the database", false)
	addPath(doc, "/api/v1/session", "post", "Log in and receive a session token", false)
	addPath(doc, "/api/v1/session", "delete", "End the session (stateless no-op)", false)
	addPath(doc, "/api/v1/site", "get", "Public site settings", false)
	addPath(doc, "/api/v1/posts", "get", "List published blog posts", false)
	addPath(doc, "/api/v1/posts/{slug}", "get", "Read a published blog post", false)
	addPath(doc, "/api/v1/portfolio", "get", "List portfolio entries", false)
	addPath(doc, "/api/v1/portfolio/{id}", "get", "Read a portfolio entry", false)
	addPath(doc, "/api/v1/products", "get", "List active products", false)
	addPath(doc, "/api/v1/products/{id}", "get", "Read an active product", false)
	addPath(doc, "/api/v1/chat", "post", "Ask the shop assistant a question", false)

	// Token management.
	addPath(doc, "/api/v1/tokens", "get", "List your API tokens", true)
	addPath(doc, "/api/v1/tokens", "post", "Create an API token (raw value shown once)", true)
	addPath(doc, "/api/v1/tokens/{id}", "delete", "Revoke an API token (idempotent)", true)
	addPath(doc, "/api/v1/tokens/validate", "post", "Check a raw token; counts as a use", true)

	// Admin surface.
	addCRUD(doc, "/api/v1/admin/posts", "blog posts")
	addPath(doc, "/api/v1/admin/posts/generate", "post", "Draft blog body text with the chat model", true)
	addCRUD(doc, "/api/v1/admin/portfolio", "portfolio entries")
	addCRUD(doc, "/api/v1/admin/products", "products")
	addCRUD(doc, "/api/v1/admin/sales", "sales")
	addPath(doc, "/api/v1/admin/sales/{id}/status", "put", "Move a sale through its lifecycle", true)
	addCRUD(doc, "/api/v1/admin/webhooks", "webhooks")
	addPath(doc, "/api/v1/admin/webhooks/{id}/deliveries", "get", "List delivery attempts for a webhook", true)
	addPath(doc, "/api/v1/admin/users", "get", "List staff accounts", true)
	addPath(doc, "/api/v1/admin/users", "post", "Create a staff account", true)
	addPath(doc, "/api/v1/admin/users/{id}", "get", "Read a staff account", true)
	addPath(doc, "/api/v1/admin/users/{id}", "put", "Update a staff account", true)
	addPath(doc, "/api/v1/admin/tokens", "get", "List all API tokens", true)
	addPath(doc, "/api/v1/admin/audit", "get", "List security audit events", true)
	addPath(doc, "/api/v1/admin/settings", "get", "List all settings", true)
	addPath(doc, "/api/v1/admin/settings", "put", "Update settings", true)

	return doc
}

func schemaOf(typ string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}}
}

func addCRUD(doc *openapi3.T, base, noun string) {
	addPath(doc, base, "get", "List "+noun, true)
	addPath(doc, base, "post", "Create one of "+noun, true)
	addPath(doc, base+"/{id}", "get", "Read one of "+noun, true)
	addPath(doc, base+"/{id}", "put", "Update one of "+noun, true)
	addPath(doc, base+"/{id}", "delete", "Delete one of "+noun, true)
}

func addPath(doc *openapi3.T, path, method, summary string, authenticated bool) {
	item := doc.Paths.Value(path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(path, item)
	}

	op := openapi3.NewOperation()
	op.Summary = summary
	op.Responses = openapi3.NewResponses()
	if !authenticated {
		op.Security = &openapi3.SecurityRequirements{}
	}

	errRef := &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: strPtr("Error"),
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"},
				},
			},
		},
	}
	op.Responses.Set("200", &openapi3.ResponseRef{Value: &openapi3.Response{Description: strPtr("Success")}})
	op.Responses.Set("400", errRef)
	if authenticated {
		op.Responses.Set("401", errRef)
		op.Responses.Set("403", errRef)
	}

	item.SetOperation(strings.ToUpper(method), op)
}

func strPtr(s string) *string { return &s }
