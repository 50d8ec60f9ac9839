package registry

import (
	"context"
	"strings"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/sessions"
)

// MissingArguments returns the names of required arguments absent from args.
func (p *Prompt) MissingArguments(args map[string]string) []string {
	var missing []string
	for _, a := range p.Arguments {
		if !a.Required {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			missing = append(missing, a.Name)
		}
	}
	return missing
}

// Render produces the prompt for req. It calls Handler when set and
// otherwise substitutes {{name}} placeholders in the text of Messages.
func (p *Prompt) Render(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if p.Handler != nil {
		return p.Handler(ctx, session, req)
	}
	pairs := make([]string, 0, 2*len(req.Arguments))
	for k, v := range req.Arguments {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)

	msgs := make([]mcp.PromptMessage, len(p.Messages))
	for i, m := range p.Messages {
		msgs[i] = m
		if m.Content.Type == mcp.ContentTypeText {
			msgs[i].Content.Text = r.Replace(m.Content.Text)
		}
	}
	return &mcp.GetPromptResult{Description: p.Description, Messages: msgs}, nil
}
