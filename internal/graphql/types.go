// Package graphql is the wire client for the template service.
//
// Two operations are sent as HTTP POST with a JSON body {query, variables}:
// createTemplate (a mutation) and getTemplate (a query). Variables are
// typed structs, one per operation, so the wire shape is checked at compile
// time.
package graphql

// Template status values reported by the service.
const (
	StatusPending    = "PENDING"
	StatusGenerating = "GENERATING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// IsTerminal reports whether polling should stop at status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Operation names, used as request tags in metrics.
const (
	OpCreateTemplate = "createTemplate"
	OpGetTemplate    = "getTemplate"
)

const createTemplateQuery = `mutation($in:CreateTemplateInput!){
  createTemplate(input:$in){ success message template{ id status zipUrl } }
}`

const getTemplateQuery = `query($id:ID!){getTemplate(id:$id){success message template{status zipUrl}}}`

// EndpointInput describes one service endpoint.
type EndpointInput struct {
	Protocol string `json:"protocol" yaml:"protocol"`
	Role     string `json:"role" yaml:"role"`
}

// DatabaseInput describes the database engine and its schema.
type DatabaseInput struct {
	Type string `json:"type" yaml:"type"`
	DDL  string `json:"ddl" yaml:"ddl"`
}

// DockerInput describes the container registry and image.
type DockerInput struct {
	Registry  string `json:"registry" yaml:"registry"`
	ImageName string `json:"imageName" yaml:"imageName"`
}

// CreateTemplateInput is the createTemplate input object.
type CreateTemplateInput struct {
	Name      string          `json:"name"`
	Endpoints []EndpointInput `json:"endpoints"`
	Database  DatabaseInput   `json:"database"`
	Docker    DockerInput     `json:"docker"`
}

type createTemplateVariables struct {
	In CreateTemplateInput `json:"in"`
}

type getTemplateVariables struct {
	ID string `json:"id"`
}

// request is the JSON body of every call.
type request[V any] struct {
	Query     string `json:"query"`
	Variables V      `json:"variables"`
}

// Template is the part of the template object the harness reads.
type Template struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	ZipURL string `json:"zipUrl,omitempty"`
}
