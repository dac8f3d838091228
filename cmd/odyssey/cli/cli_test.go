package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/app"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type stubPreviewer struct {
	next  string
	err   error
	kinds []sequence.Kind
}

func (s *stubPreviewer) Preview(ctx context.Context, tenantID string, kind sequence.Kind) (string, error) {
	s.kinds = append(s.kinds, kind)
	return s.next, s.err
}

func TestPreviewCommandJSON(t *testing.T) {
	previewer := &stubPreviewer{next: "PO-2024-0042"}
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	code := PreviewCommand(context.Background(), previewer, SequencePreviewOptions{
		TenantID:   "acme",
		Kind:       "po",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 0, code)
	require.Empty(t, stderr.String())
	require.Equal(t, []sequence.Kind{sequence.KindPurchaseOrder}, previewer.kinds)

	var body SequencePreview
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &body))
	require.Equal(t, SequencePreview{TenantID: "acme", Kind: "PURCHASE_ORDER", Next: "PO-2024-0042"}, body)
}

func TestPreviewCommandHuman(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := PreviewCommand(context.Background(), &stubPreviewer{next: "REQ-202401-0001"}, SequencePreviewOptions{
		TenantID: "acme",
		Kind:     "requisition",
		Stdout:   stdout,
		Stderr:   new(bytes.Buffer),
	})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "REQ-202401-0001")
}

func TestPreviewCommandRejectsBadInput(t *testing.T) {
	previewer := &stubPreviewer{}

	stderr := new(bytes.Buffer)
	code := PreviewCommand(context.Background(), previewer, SequencePreviewOptions{Kind: "po", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--tenant is required")

	stderr.Reset()
	code = PreviewCommand(context.Background(), previewer, SequencePreviewOptions{TenantID: "acme", Kind: "invoice", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unknown sequence kind")
	require.Empty(t, previewer.kinds)
}

func TestPreviewCommandReportsStoreError(t *testing.T) {
	previewer := &stubPreviewer{err: errors.Join(shared.ErrDependency, errors.New("connection refused"))}
	stderr := new(bytes.Buffer)
	code := PreviewCommand(context.Background(), previewer, SequencePreviewOptions{TenantID: "acme", Kind: "req", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "connection refused")
}

func TestParsePreviewFlags(t *testing.T) {
	opts, err := parsePreviewFlags([]string{"--tenant", "acme", "--kind", "po", "--json"}, new(bytes.Buffer), new(bytes.Buffer))
	require.NoError(t, err)
	require.Equal(t, "acme", opts.TenantID)
	require.Equal(t, "po", opts.Kind)
	require.True(t, opts.JSONOutput)

	_, err = parsePreviewFlags([]string{"--unknown"}, new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
}

func TestRunPrintsUsage(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := Run(context.Background(), &app.Config{}, nil, []string{"sequence"}, new(bytes.Buffer), stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "usage:")

	stderr.Reset()
	code = Run(context.Background(), &app.Config{}, nil, []string{"sequence", "reset"}, new(bytes.Buffer), stderr)
	require.Equal(t, 2, code)
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	var jobsCLI *JobsCLI
	_, err := jobsCLI.Trigger(context.Background(), "fx:backfill")
	require.ErrorContains(t, err, "unsupported job")

	_, err = jobsCLI.Trigger(context.Background(), "escalation-scan")
	require.ErrorContains(t, err, "client not configured")
}
