package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolah/disco/client"
	"github.com/kolah/disco/discovery"
)

// batchCall is one entry of a batch file.
type batchCall struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Args   discovery.Args  `json:"args,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type batchOutput struct {
	ContentID string          `json:"contentId"`
	Method    string          `json:"method"`
	Status    int             `json:"status,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func BatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>",
		Short: "Send several calls as one batch request",
		Long: `Reads a JSON list of calls and sends them as one multipart batch:

  [
    {"method": "items.get", "args": {"id": "1"}},
    {"id": "new", "method": "items.insert", "body": {"name": "widget"}}
  ]

Results are printed in file order. The command fails when any call fails.
Use - to read the list from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	calls, err := readBatchFile(cmd, args[0])
	if err != nil {
		return err
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	c, err := e.client()
	if err != nil {
		return err
	}

	reqs := make([]*discovery.Request, len(calls))
	for i, call := range calls {
		var opts []discovery.CallOption
		if len(call.Body) > 0 {
			opts = append(opts, discovery.WithBody(call.Body))
		}
		req, err := c.Resolve(call.Method, call.Args, opts...)
		if err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
		if call.ID != "" {
			req = req.WithContentID(call.ID)
		}
		reqs[i] = req
	}

	results, err := c.Batch(cmd.Context(), reqs...)
	if err != nil {
		return err
	}

	out := make([]batchOutput, len(results))
	for i, r := range results {
		out[i] = batchResult(r)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)

	return results.Err()
}

func readBatchFile(cmd *cobra.Command, path string) ([]batchCall, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = readBody("@-", cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var calls []batchCall
	if err := dec.Decode(&calls); err != nil {
		return nil, fmt.Errorf("decoding batch file: %w", err)
	}
	for i, call := range calls {
		if call.Method == "" {
			return nil, fmt.Errorf("call %d: method is required", i)
		}
	}
	return calls, nil
}

func batchResult(r client.BatchResult) batchOutput {
	out := batchOutput{ContentID: r.ContentID, Method: r.Request.MethodPath()}
	if r.Err != nil {
		out.Error = r.Err.Error()
		var httpErr *client.HTTPError
		if errors.As(r.Err, &httpErr) {
			out.Status = httpErr.StatusCode
		}
		return out
	}
	out.Status = r.Response.StatusCode
	if json.Valid(r.Response.Body) {
		out.Response = r.Response.Body
	}
	return out
}
