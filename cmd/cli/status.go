package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	var errorsLimit int
	cmd := &cobra.Command{
		Use:   "status [source]",
		Short: "Show sources, watermarks and recent harvest errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, v)
			defer cancel()

			u := strings.TrimRight(v.GetString(keyHTTPAddr), "/") + "/sources"
			if len(args) == 1 {
				u += "/" + url.PathEscape(args[0])
				if cmd.Flags().Changed("errors") {
					u += fmt.Sprintf("?errors=%d", errorsLimit)
				}
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			var out any
			if err := json.Unmarshal(body, &out); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&errorsLimit, "errors", 20, "number of recent errors to show")
	return cmd
}
