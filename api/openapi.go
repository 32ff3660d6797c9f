package api

import (
	"log/slog"
	"net/http"
	"strings"

	"forum-search-backend/base"
	"forum-search-backend/hooks"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

const (
	tagSearch = "search"
	tagAdmin  = "admin"
	tagHooks  = "hooks"
)

// registerOpenApi registers endpoints for OpenAPI JSON and YAML specs.
func (s *Server) registerOpenApi() {
	s.Router.GET(BasePath+"/openapi.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.apispec)
	})

	s.Router.GET(BasePath+"/openapi.yaml", func(c *gin.Context) {
		data, err := yaml.Marshal(s.apispec)
		if err != nil {
			slog.Error("failed marshaling openapi spec", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "text/yaml")
		c.Writer.Write(data)
	})
}

// newApiSpec constructs the OpenAPI specification for this service.
func newApiSpec() *openapi3.T {
	errorResponse := &openapi3.ResponseRef{Ref: "#/components/responses/ErrorResponse"}
	idList := openapi3.NewArraySchema().WithItems(openapi3.NewInt64Schema())

	spec := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Forum search API",
			Description: "Search forum posts through Solr and keep the index in sync",
			Version:     "v1",
			License: &openapi3.License{
				Name: "MIT License",
				URL:  "https://opensource.org/licenses/MIT",
			},
		},
		Servers: openapi3.Servers{
			&openapi3.Server{
				Description: "Production",
				URL:         strings.TrimSuffix(base.BackendUrl, "/") + BasePath,
			},
		},
		Tags: openapi3.Tags{
			&openapi3.Tag{Name: tagSearch},
			&openapi3.Tag{Name: tagAdmin},
			&openapi3.Tag{Name: tagHooks},
		},
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"SearchResult": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
					WithProperty("pids", idList).
					WithProperty("tids", idList).
					WithProperty("total", openapi3.NewInt64Schema())),
				"Event": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
					WithProperty("pid", openapi3.NewInt64Schema()).
					WithProperty("tid", openapi3.NewInt64Schema()).
					WithProperty("hash", openapi3.NewStringSchema())),
			},
			Responses: openapi3.ResponseBodies{
				"ErrorResponse": &openapi3.ResponseRef{
					Value: openapi3.NewResponse().
						WithDescription("Response when errors happen.").
						WithContent(openapi3.NewContentWithJSONSchema(openapi3.NewSchema().
							WithProperty("error", openapi3.NewStringSchema()))),
				},
			},
		},
		Paths: openapi3.NewPaths(),
	}

	searchOp := openapi3.NewOperation()
	searchOp.OperationID = "search"
	searchOp.Summary = "Search posts and topic titles"
	searchOp.Tags = []string{tagSearch}
	searchOp.AddParameter(openapi3.NewQueryParameter("term").WithSchema(openapi3.NewStringSchema()))
	searchOp.AddParameter(openapi3.NewQueryParameter("in").WithSchema(openapi3.NewStringSchema().
		WithEnum("titles", "posts", "titlesposts")))
	searchOp.AddParameter(openapi3.NewQueryParameter("uid").WithSchema(idList))
	searchOp.AddParameter(openapi3.NewQueryParameter("cid").WithSchema(idList))
	searchOp.AddParameter(openapi3.NewQueryParameter("start").WithSchema(openapi3.NewIntegerSchema()))
	searchOp.AddParameter(openapi3.NewQueryParameter("rows").WithSchema(openapi3.NewIntegerSchema()))
	searchOp.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Matching post and topic ids").
		WithContent(openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/SearchResult", nil))))
	searchOp.Responses.Set("400", errorResponse)
	searchOp.Responses.Set("503", errorResponse)
	spec.AddOperation("/search", http.MethodGet, searchOp)

	hookOp := openapi3.NewOperation()
	hookOp.OperationID = "hook"
	hookOp.Summary = "Queue a forum event"
	hookOp.Tags = []string{tagHooks}
	hookOp.AddParameter(openapi3.NewPathParameter("hook").WithSchema(openapi3.NewStringSchema().
		WithEnum(hookNames()...)))
	hookOp.AddParameter(openapi3.NewHeaderParameter(base.HookTokenHeader).WithSchema(openapi3.NewStringSchema()))
	hookOp.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/Event", nil))}
	hookOp.AddResponse(http.StatusAccepted, openapi3.NewResponse().WithDescription("Event queued"))
	hookOp.Responses.Set("400", errorResponse)
	hookOp.Responses.Set("503", errorResponse)
	spec.AddOperation("/hooks/{hook}", http.MethodPost, hookOp)

	for _, route := range []struct{ method, path, id, summary string }{
		{http.MethodGet, "/admin/solr", "adminStatus", "Solr status, index statistics and settings"},
		{http.MethodPut, "/admin/solr/settings", "saveSettings", "Save settings"},
		{http.MethodPost, "/admin/solr/toggle", "toggle", "Enable or disable search and indexing"},
		{http.MethodDelete, "/admin/solr/flush", "flush", "Remove all documents from the index"},
		{http.MethodPost, "/admin/solr/rebuild", "startRebuild", "Start reindexing"},
		{http.MethodGet, "/admin/solr/rebuild", "rebuildProgress", "Reindex progress"},
		{http.MethodDelete, "/admin/solr/rebuild", "cancelRebuild", "Cancel reindexing"},
		{http.MethodGet, "/admin/solr/doc/{pid}", "document", "Indexed document of a post"},
	} {
		op := openapi3.NewOperation()
		op.OperationID = route.id
		op.Summary = route.summary
		op.Tags = []string{tagAdmin}
		if strings.Contains(route.path, "{pid}") {
			op.AddParameter(openapi3.NewPathParameter("pid").WithSchema(openapi3.NewInt64Schema()))
		}
		op.AddResponse(http.StatusOK, openapi3.NewResponse().WithDescription("OK"))
		op.Responses.Set("403", errorResponse)
		spec.AddOperation(route.path, route.method, op)
	}

	if contact := base.EnvVar("CONTACT_EMAIL", ""); len(contact) > 0 {
		spec.Info.Contact = &openapi3.Contact{
			Name:  contact,
			Email: contact,
		}
	}
	return spec
}

func hookNames() []any {
	names := make([]any, 0, len(hooks.Hooks))
	for _, hook := range hooks.Hooks {
		names = append(names, hook)
	}
	return names
}
