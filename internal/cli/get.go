package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/EmerBV/figrnet"
)

type getOpts struct {
	headers []string
	query   []string
	cache   string
	maxAge  time.Duration
	selectP string
	raw     bool
}

func (c *CLI) getCommand() *cobra.Command {
	var opts getOpts

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send a GET request through the client",
		Long: `Send a GET request relative to the configured base URL.

The response body is pretty-printed when it is JSON. Use --select to
extract a single value with a gjson path.`,
		Example: `  figrnet get /items --cache cacheFirst --max-age 5m
  figrnet get /items/7 -H "Accept-Language: es" --select data.name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runGet(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, `request header as "Name: value" (repeatable)`)
	cmd.Flags().StringArrayVarP(&opts.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.cache, "cache", "", "cache policy: networkOnly, cacheFirst, networkFirst, cacheOnly, swr")
	cmd.Flags().DurationVar(&opts.maxAge, "max-age", 5*time.Minute, "cache max age when --cache is set")
	cmd.Flags().StringVar(&opts.selectP, "select", "", "gjson path to print instead of the whole body")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the body without formatting")

	return cmd
}

func (c *CLI) runGet(cmd *cobra.Command, path string, opts getOpts) error {
	epOpts, err := opts.endpointOptions()
	if err != nil {
		return err
	}

	client, err := c.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	prog := newProgress(c.Logger)
	resp, err := client.Do(cmd.Context(), figrnet.NewEndpoint(http.MethodGet, path, epOpts...))
	if err != nil {
		var fe *figrnet.Error
		if errors.As(err, &fe) {
			c.Logger.Debug(fe.DebugInfo())
		}
		return err
	}

	source := "network"
	switch {
	case resp.FromCache && resp.Stale:
		source = "stale cache"
	case resp.FromCache:
		source = "cache"
	case resp.Revalidated:
		source = "revalidated"
	}
	prog.done(fmt.Sprintf("GET %s %d %s from %s", path, resp.StatusCode, humanize.Bytes(uint64(len(resp.Body))), source))

	return writeBody(cmd.OutOrStdout(), resp.Body, opts)
}

func (o getOpts) endpointOptions() ([]figrnet.EndpointOption, error) {
	var eps []figrnet.EndpointOption
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Name: value\"", h)
		}
		eps = append(eps, figrnet.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	for _, q := range o.query {
		k, v, ok := strings.Cut(q, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query %q: want key=value", q)
		}
		eps = append(eps, figrnet.WithQuery(k, v))
	}
	if o.cache != "" {
		p, err := figrnet.ParseCachePolicy(o.cache)
		if err != nil {
			return nil, err
		}
		eps = append(eps, figrnet.WithCachePolicy(p, o.maxAge))
	}
	return eps, nil
}

func writeBody(w io.Writer, body []byte, opts getOpts) error {
	if opts.selectP != "" {
		res := gjson.GetBytes(body, opts.selectP)
		if !res.Exists() {
			return fmt.Errorf("path %q not found in response", opts.selectP)
		}
		body = []byte(res.Raw)
	}
	if !opts.raw && json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
