package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/schema"
	"github.com/ggoodman/mcp-hub-go/sessions"
)

// Import copies the upstream's current tools, resources, resource templates
// and prompts into the table's registry under namespace. Unlike Mount this
// is a one-time snapshot: the records forward calls to up, but later
// changes to the upstream's lists are not reflected and the namespace is
// not reserved. The caller keeps ownership of up.
//
// Import is all or nothing. If any record collides with an existing
// identifier, the records already copied are removed again and the error
// wraps registry.ErrDuplicateIdentifier.
//
// Of the mount options only WithTimeout applies.
func (t *Table) Import(ctx context.Context, namespace string, up Upstream, opts ...MountOption) error {
	if namespace == "" || !registry.ValidNamespace(namespace) {
		return fmt.Errorf("%w: namespace %q", registry.ErrInvalidCapability, namespace)
	}
	m := &mount{namespace: namespace, up: up, stop: make(chan struct{})}
	for _, opt := range opts {
		opt(&m.cfg)
	}
	log := t.log.With(slog.String("import", namespace))
	start := time.Now()

	cat, err := t.fetchCatalog(ctx, m)
	if err != nil {
		log.ErrorContext(ctx, "proxy.import.fail", slog.String("err", err.Error()))
		return err
	}

	var added []registry.Capability
	for _, c := range t.importRecords(m, cat) {
		if err := t.reg.Register(namespace, c); err != nil {
			var result *multierror.Error
			result = multierror.Append(result, err)
			for _, prev := range added {
				if uerr := t.reg.Unregister(namespace, prev.Kind(), prev.ID()); uerr != nil {
					result = multierror.Append(result, uerr)
				}
			}
			log.InfoContext(ctx, "proxy.import.collision", slog.String("err", err.Error()))
			return result.ErrorOrNil()
		}
		added = append(added, c)
	}

	log.InfoContext(ctx, "proxy.import.ok",
		slog.Int("tools", len(cat.Tools)),
		slog.Int("resources", len(cat.Resources)+len(cat.ResourceTemplates)),
		slog.Int("prompts", len(cat.Prompts)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// importRecords turns a catalog into local records that forward to m.
// Handlers see qualified identifiers and strip the namespace before
// forwarding.
func (t *Table) importRecords(m *mount, cat *catalog) []registry.Capability {
	out := make([]registry.Capability, 0, len(cat.Tools)+len(cat.Resources)+len(cat.ResourceTemplates)+len(cat.Prompts))

	for _, d := range cat.Tools {
		sideEffects := d.Annotations == nil || d.Annotations.ReadOnlyHint == nil || !*d.Annotations.ReadOnlyHint
		out = append(out, &registry.Tool{
			Name:         d.Name,
			Title:        d.Title,
			Description:  d.Description,
			InputSchema:  schema.Schema(d.InputSchema),
			OutputSchema: schema.Schema(d.OutputSchema),
			SideEffects:  sideEffects,
			Tags:         d.Tags(),
			Handler: func(ctx context.Context, _ sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				var res mcp.CallToolResult
				err := t.forward(ctx, m, string(mcp.ToolsCallMethod), &mcp.CallToolRequest{Name: d.Name, Arguments: req.Arguments}, &res)
				if err != nil {
					return nil, err
				}
				return &res, nil
			},
		})
	}

	read := func(ctx context.Context, _ sessions.Session, req *registry.ResourceRequest) (*mcp.ReadResourceResult, error) {
		local, _ := registry.StripNamespace(m.namespace, req.URI)
		var res mcp.ReadResourceResult
		if err := t.forward(ctx, m, string(mcp.ResourcesReadMethod), &mcp.ReadResourceRequest{URI: local}, &res); err != nil {
			return nil, err
		}
		for i := range res.Contents {
			if res.Contents[i].URI != "" {
				res.Contents[i].URI = registry.Qualify(m.namespace, res.Contents[i].URI)
			}
		}
		return &res, nil
	}
	for _, d := range cat.Resources {
		out = append(out, &registry.Resource{URI: d.URI, Name: d.Name, Description: d.Description, MimeType: d.MimeType, Handler: read})
	}
	for _, d := range cat.ResourceTemplates {
		out = append(out, &registry.Resource{URITemplate: d.URITemplate, Name: d.Name, Description: d.Description, MimeType: d.MimeType, Handler: read})
	}

	for _, d := range cat.Prompts {
		out = append(out, &registry.Prompt{
			Name:        d.Name,
			Description: d.Description,
			Arguments:   d.Arguments,
			Handler: func(ctx context.Context, _ sessions.Session, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
				var res mcp.GetPromptResult
				if err := t.forward(ctx, m, string(mcp.PromptsGetMethod), &mcp.GetPromptRequest{Name: d.Name, Arguments: req.Arguments}, &res); err != nil {
					return nil, err
				}
				return &res, nil
			},
		})
	}
	return out
}
