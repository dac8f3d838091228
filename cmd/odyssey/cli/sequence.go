package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
)

// Previewer renders the next number of a sequence without reserving it.
type Previewer interface {
	Preview(ctx context.Context, tenantID string, kind sequence.Kind) (string, error)
}

// SequencePreviewOptions defines the flags of the sequence preview command.
type SequencePreviewOptions struct {
	TenantID   string
	Kind       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SequencePreview is the JSON body printed with --json.
type SequencePreview struct {
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	Next     string `json:"next"`
}

// PreviewCommand prints the next number and returns the process exit code.
func PreviewCommand(ctx context.Context, previewer Previewer, opts SequencePreviewOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	tenantID := strings.TrimSpace(opts.TenantID)
	if tenantID == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "sequence preview: --tenant is required")
		return 1
	}
	kind, err := sequence.ParseKind(opts.Kind)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sequence preview: %v\n", err)
		return 1
	}
	next, err := previewer.Preview(ctx, tenantID, kind)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sequence preview: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		body := SequencePreview{TenantID: tenantID, Kind: string(kind), Next: next}
		if err := json.NewEncoder(opts.Stdout).Encode(body); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sequence preview: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "next %s number for tenant %s: %s\n", kind, tenantID, next)
	return 0
}
