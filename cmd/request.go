package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mpsdash/internal/bootstrap"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Call one MPS API endpoint through the token manager and response cache",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := cmd.Context()

		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		res, err := app.Gateway.Request(ctx, req)
		if err != nil {
			logging.Error(ctx, "mps request failed",
				slog.String("path", req.Path),
				slog.String("kind", errs.Kind(err)),
				slog.Any("err", errs.Loggable(err)),
			)
			return errs.Wrap(err, "mps request")
		}

		return renderResult(cmd.OutOrStdout(), res, output)
	}),
}

func requestFromFlags(cmd *cobra.Command) (mps.Request, error) {
	path, _ := cmd.Flags().GetString("path")
	method, _ := cmd.Flags().GetString("method")
	useCache, _ := cmd.Flags().GetBool("cache")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	required, _ := cmd.Flags().GetStringSlice("require")

	raw, err := resolveBody(cmd)
	if err != nil {
		return mps.Request{}, err
	}
	body, err := parseBody(raw)
	if err != nil {
		return mps.Request{}, err
	}

	return mps.Request{
		Path:   path,
		Method: method,
		Body:   body,
		Options: mps.RequestOptions{
			UseCache:       useCache,
			TTL:            ttl,
			RequiredFields: required,
		},
	}, nil
}

func resolveBody(cmd *cobra.Command) (string, error) {
	inlineBody, _ := cmd.Flags().GetString("body")
	bodyFile, _ := cmd.Flags().GetString("body-file")

	if strings.TrimSpace(inlineBody) != "" && strings.TrimSpace(bodyFile) != "" {
		return "", errors.New("body and body-file are mutually exclusive")
	}

	switch strings.TrimSpace(bodyFile) {
	case "":
		return inlineBody, nil
	case "-":
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", errs.Wrap(err, "read body from stdin")
		}
		return string(raw), nil
	default:
		raw, err := os.ReadFile(bodyFile)
		if err != nil {
			return "", errs.Wrapf(err, "read body file %q", bodyFile)
		}
		return string(raw), nil
	}
}

// parseBody accepts an empty string (no payload) or a JSON object.
func parseBody(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, errs.Wrap(err, "body must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("body must be a single JSON object")
	}
	return body, nil
}

type renderedResult struct {
	StatusCode int  `json:"status_code" yaml:"status_code"`
	FromCache  bool `json:"from_cache" yaml:"from_cache"`
	Data       any  `json:"data" yaml:"data"`
}

func renderResult(w io.Writer, res mps.Result, format string) error {
	var data any
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return errs.Wrap(err, "decode response data")
	}
	out := renderedResult{StatusCode: res.StatusCode, FromCache: res.FromCache, Data: data}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return errs.Wrap(err, "encode json output")
		}
		_, err := w.Write(buf.Bytes())
		return errs.Wrap(err, "write request output")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return errs.Wrap(err, "encode yaml output")
		}
		return errs.Wrap(enc.Close(), "flush yaml output")
	default:
		return fmt.Errorf("unsupported output format %q (json|yaml)", format)
	}
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().String("path", "", "API path relative to api.base_url, e.g. Customer/GetCustomers")
	requestCmd.Flags().String("method", "POST", "HTTP method")
	requestCmd.Flags().String("body", "", "JSON object sent as body (query string for GET)")
	requestCmd.Flags().String("body-file", "", "Read the JSON body from a file, or - for stdin")
	requestCmd.Flags().Bool("cache", false, "Serve from and store into the response cache")
	requestCmd.Flags().Duration("ttl", 0, "Cache TTL for this response (default api.default_ttl)")
	requestCmd.Flags().StringSlice("require", nil, "Body field that must be present and non-empty (repeatable)")
	requestCmd.Flags().StringP("output", "o", "json", "Output format (json|yaml)")
	_ = requestCmd.MarkFlagRequired("path")
}
