package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolah/disco/client"
	"github.com/kolah/disco/discovery"
)

func CallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Call a method by its dotted path",
		Example: `  disco call items.list -a maxResults=10 -a tag=red -a tag=blue
  disco call items.insert --body '{"name":"widget"}'
  disco call items.get -a id=42 --download -o item.bin`,
		Args: cobra.ExactArgs(1),
		RunE: runCall,
	}

	flags := cmd.Flags()
	flags.StringArrayP("arg", "a", nil, "Argument as key=value; repeat a key for repeated parameters")
	flags.String("body", "", "JSON request body, or @file to read it from a file (@- for stdin)")
	flags.String("media", "", "File to upload as media")
	flags.String("media-type", "", "Content type of the media (default: from the file extension)")
	flags.Bool("download", false, "Download the media content instead of the JSON representation")
	flags.StringP("out", "o", "", "Write the response body to this file")
	flags.Bool("retry", false, "Retry transport errors, 429 and 5xx responses with backoff")
	flags.Bool("all-pages", false, "Follow nextPageToken and print every page")

	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	method := args[0]

	kvs, _ := cmd.Flags().GetStringArray("arg")
	callArgs, err := parseArgs(kvs)
	if err != nil {
		return err
	}
	opts, err := callOptions(cmd)
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
	ctx := cmd.Context()

	if allPages, _ := cmd.Flags().GetBool("all-pages"); allPages {
		return c.Pages(ctx, method, callArgs, func(resp *client.Response) error {
			return printJSON(cmd.OutOrStdout(), resp.Body)
		}, opts...)
	}

	call := func() (*client.Response, error) {
		return c.Call(ctx, method, callArgs, opts...)
	}
	var resp *client.Response
	if retry, _ := cmd.Flags().GetBool("retry"); retry {
		resp, err = client.Retry(ctx, client.DefaultBackOff(), call)
	} else {
		resp, err = call()
	}
	if err != nil {
		return err
	}

	download, _ := cmd.Flags().GetBool("download")
	out, _ := cmd.Flags().GetString("out")
	if out != "" {
		if err := os.WriteFile(out, resp.Body, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		cmd.PrintErrf("Written: %s (%d bytes)\n", out, len(resp.Body))
		return nil
	}
	if download {
		_, err := cmd.OutOrStdout().Write(resp.Body)
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp.Body)
}

// parseArgs turns key=value pairs into call arguments. A key given more than
// once becomes a list.
func parseArgs(kvs []string) (discovery.Args, error) {
	args := discovery.Args{}
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", kv)
		}
		switch prev := args[key].(type) {
		case nil:
			args[key] = value
		case string:
			args[key] = []string{prev, value}
		case []string:
			args[key] = append(prev, value)
		}
	}
	return args, nil
}

func callOptions(cmd *cobra.Command) ([]discovery.CallOption, error) {
	var opts []discovery.CallOption

	if spec, _ := cmd.Flags().GetString("body"); spec != "" {
		body, err := readBody(spec, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		opts = append(opts, discovery.WithBody(json.RawMessage(body)))
	}

	if path, _ := cmd.Flags().GetString("media"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading media: %w", err)
		}
		contentType, _ := cmd.Flags().GetString("media-type")
		if contentType == "" {
			contentType = mediaType(path, data)
		}
		opts = append(opts, discovery.WithMedia(contentType, data))
	}

	if download, _ := cmd.Flags().GetBool("download"); download {
		opts = append(opts, discovery.WithMediaDownload())
	}

	return opts, nil
}

// readBody resolves a --body value: literal JSON, @file or @- for stdin.
func readBody(spec string, stdin io.Reader) ([]byte, error) {
	path, isFile := strings.CutPrefix(spec, "@")
	if !isFile {
		return []byte(spec), nil
	}
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

func mediaType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// printJSON indents a JSON body. Bodies that are not JSON are written as-is.
func printJSON(w io.Writer, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err := w.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
