package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/config"
	"github.com/kalambet/innercompass/internal/session"
)

// --- auth ---

type authResult struct {
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expires_at"`
	UserID    string                `json:"user_id"`
	Email     string                `json:"email"`
	Dashboard session.DashboardView `json:"dashboard"`
}

// authenticate posts credentials to path and stores the returned token.
func authenticate(ctx context.Context, c *apiClient, path string, body map[string]string) (authResult, error) {
	var res authResult
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return res, err
	}
	if err := decodeJSON(resp, &res); err != nil {
		return res, err
	}
	if err := c.saveSession(savedSession{Token: res.Token, Email: res.Email, ExpiresAt: res.ExpiresAt}); err != nil {
		return res, err
	}
	return res, nil
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and log in",
	Long: `Create an account and log in.

Examples:
  innercompass register --email me@example.com --password 'secret123' --name 小明`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := authenticate(cmd.Context(), client, "/auth/register", map[string]string{
			"email":        email,
			"password":     password,
			"display_name": name,
		})
		if err != nil {
			return err
		}

		printSuccess("Registered %s", res.Email)
		writeDashboard(cmd.OutOrStdout(), res.Dashboard)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := authenticate(cmd.Context(), client, "/auth/login", map[string]string{
			"email":    email,
			"password": password,
		})
		if err != nil {
			return err
		}

		printSuccess("Logged in as %s", res.Email)
		printStatus("Session expires", "%s", res.ExpiresAt.Local().Format(time.DateTime))
		writeDashboard(cmd.OutOrStdout(), res.Dashboard)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			printWarning("Not logged in")
			return nil
		}

		resp, err := client.post(cmd.Context(), "/auth/logout", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			// The token may already be invalid; forget it regardless.
			printWarning("Server rejected logout: %v", err)
		}
		if err := client.clearSession(); err != nil {
			return err
		}

		printSuccess("Logged out")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().String("email", "", "account email")
		c.Flags().String("password", "", "account password")
		c.MarkFlagRequired("email")
		c.MarkFlagRequired("password")
	}
	registerCmd.Flags().String("name", "", "display name shown by the coach")
}

// --- dashboard ---

var topicsCmd = &cobra.Command{
	Use:     "topics",
	Aliases: []string{"dashboard"},
	Short:   "Show every module and topic with its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.requireLogin(); err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/dashboard")
		if err != nil {
			return err
		}
		var d session.DashboardView
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}

		writeDashboard(cmd.OutOrStdout(), d)
		return nil
	},
}

var backCmd = &cobra.Command{
	Use:   "back",
	Short: "Leave the current topic and show the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.requireLogin(); err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/back", nil)
		if err != nil {
			return err
		}
		var d session.DashboardView
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}

		writeDashboard(cmd.OutOrStdout(), d)
		return nil
	},
}

// --- topics ---

// topicPath turns "<module>-<topic>" into the topic's API path.
func topicPath(arg string) (string, error) {
	key, err := catalog.ParseTopicKey(arg)
	if err != nil {
		return "", err
	}
	return "/topics/" + string(key.Module) + "/" + key.Topic, nil
}

// chatAction performs one topic request. When the server fails but still
// returns a view, that view is returned together with the error.
func chatAction(ctx context.Context, c *apiClient, method, path string, body any) (session.ChatView, error) {
	var v session.ChatView
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return v, err
	}
	err = decodeJSON(resp, &v)
	var apiErr *apiError
	if errors.As(err, &apiErr) && len(apiErr.View) > 0 {
		if jerr := json.Unmarshal(apiErr.View, &v); jerr != nil {
			v = session.ChatView{}
		}
	}
	return v, err
}

func runChat(cmd *cobra.Command, method, action string, body any, keyArg string) error {
	path, err := topicPath(keyArg)
	if err != nil {
		return err
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.requireLogin(); err != nil {
		return err
	}

	v, err := chatAction(cmd.Context(), client, method, path+action, body)
	if v.Key != "" {
		writeChat(cmd.OutOrStdout(), v)
	}
	return err
}

var openCmd = &cobra.Command{
	Use:   "open <module-topic>",
	Short: "Open a topic and show its conversation",
	Long: `Open a topic and show its conversation.

Examples:
  innercompass open values-core_values`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, http.MethodGet, "", nil, args[0])
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <module-topic> <text...>",
	Short: "Send a message in a topic",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return runChat(cmd, http.MethodPost, "/messages", map[string]string{"text": text}, args[0])
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <module-topic>",
	Short: "Finish chatting and move to the summary step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, http.MethodPost, "/complete", nil, args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <module-topic>",
	Short: "Go back from the summary step to chatting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, http.MethodPost, "/resume", nil, args[0])
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <module-topic> <text...>",
	Short: "Submit your summary and complete the topic",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		printStep("Asking the coach for a summary...")
		return runChat(cmd, http.MethodPost, "/summary", map[string]string{"summary": text}, args[0])
	},
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a report across all completed topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.requireLogin(); err != nil {
			return err
		}

		printStep("Generating report...")
		resp, err := client.get(cmd.Context(), "/report")
		if err != nil {
			return err
		}
		var v session.ReportView
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}
		if v.Empty {
			printWarning("No completed topics yet")
		}

		fmt.Fprintln(cmd.OutOrStdout(), v.Text)
		return nil
	},
}

// --- export ---

// fetchExport downloads the plain-text export and the filename the server
// suggests for it.
func fetchExport(ctx context.Context, c *apiClient) (filename string, body []byte, err error) {
	resp, err := c.get(ctx, "/export")
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode >= 400 {
		return "", nil, decodeJSON(resp, nil)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading export: %w", err)
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	if filename == "" {
		filename = "innercompass-export.txt"
	}
	return filename, body, nil
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download all conversations and summaries as a text file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.requireLogin(); err != nil {
			return err
		}

		name, body, err := fetchExport(cmd.Context(), client)
		if err != nil {
			return err
		}
		if output == "-" {
			_, err := cmd.OutOrStdout().Write(body)
			return err
		}
		if output == "" {
			output = name
		}
		if err := os.WriteFile(output, body, 0o600); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}

		printSuccess("Exported to %s", output)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output path (\"-\" for stdout, default: server-suggested name)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
