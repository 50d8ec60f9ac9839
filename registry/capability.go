package registry

import (
	"context"
	"slices"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/schema"
	"github.com/ggoodman/mcp-hub-go/sessions"
)

// Capability is a Tool, Resource or Prompt record. Records are produced by
// builders (NewTool, or plain struct literals) and consumed by the registry
// and the dispatcher.
type Capability interface {
	Kind() Kind
	// ID is the identifier before namespacing: a tool or prompt name, or a
	// resource URI / URI template.
	ID() string
}

// ToolHandler is the function signature used to handle a tool invocation.
// Arguments in req have already been validated against the input schema.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Tool is an invokable action.
type Tool struct {
	Name         string
	Title        string
	Description  string
	InputSchema  schema.Schema
	OutputSchema schema.Schema
	// SideEffects marks tools that may mutate external state.
	SideEffects bool
	// Tags categorize the tool. They are advertised under _meta.tags.
	Tags    []string
	Handler ToolHandler
}

func (t *Tool) Kind() Kind { return KindTool }
func (t *Tool) ID() string { return t.Name }

// Descriptor renders the wire form of the tool under the given qualified
// name.
func (t *Tool) Descriptor(name string) mcp.Tool {
	readOnly := !t.SideEffects
	d := mcp.Tool{
		Name:         name,
		Title:        t.Title,
		Description:  t.Description,
		InputSchema:  t.InputSchema.Raw(),
		OutputSchema: outputSchema(t.OutputSchema),
		Annotations:  &mcp.ToolAnnotations{ReadOnlyHint: &readOnly},
	}
	if len(t.Tags) > 0 {
		d.Meta = map[string]any{mcp.MetaTags: slices.Clone(t.Tags)}
	}
	return d
}

func outputSchema(s schema.Schema) []byte {
	if s.IsZero() {
		return nil
	}
	return s
}

// ResourceRequest carries a resource read. Params holds the variables bound
// by a URI template match; it is nil for static resources.
type ResourceRequest struct {
	URI    string
	Params map[string]string
}

// ResourceHandler produces the contents of a resource.
type ResourceHandler func(ctx context.Context, session sessions.Session, req *ResourceRequest) (*mcp.ReadResourceResult, error)

// Resource is addressable read-only content. Exactly one of URI and
// URITemplate (RFC 6570) is set.
type Resource struct {
	URI         string
	URITemplate string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

func (r *Resource) Kind() Kind { return KindResource }

func (r *Resource) ID() string {
	if r.URITemplate != "" {
		return r.URITemplate
	}
	return r.URI
}

// IsTemplate reports whether the resource is addressed by a URI template.
func (r *Resource) IsTemplate() bool { return r.URITemplate != "" }

// Descriptor renders the static wire form under the given qualified URI.
func (r *Resource) Descriptor(uri string) mcp.Resource {
	return mcp.Resource{URI: uri, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
}

// TemplateDescriptor renders the template wire form under the given
// qualified template.
func (r *Resource) TemplateDescriptor(tmpl string) mcp.ResourceTemplate {
	return mcp.ResourceTemplate{URITemplate: tmpl, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
}

// PromptHandler renders a prompt for the given arguments.
type PromptHandler func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

// Prompt is a reusable interaction template. When Handler is nil the
// Messages are rendered by substituting {{name}} placeholders with the
// supplied arguments.
type Prompt struct {
	Name        string
	Description string
	Arguments   []mcp.PromptArgument
	Messages    []mcp.PromptMessage
	Handler     PromptHandler
}

func (p *Prompt) Kind() Kind { return KindPrompt }
func (p *Prompt) ID() string { return p.Name }

// Descriptor renders the wire form under the given qualified name.
func (p *Prompt) Descriptor(name string) mcp.Prompt {
	return mcp.Prompt{Name: name, Description: p.Description, Arguments: p.Arguments}
}
