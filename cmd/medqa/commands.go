package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the ingested documents",
	Long: `Ask a question about the ingested documents.

Examples:
  medqa ask "What is diabetes?"
  medqa ask --session <session-id> "How is it treated?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ask", map[string]any{
			"session_id": sessionID,
			"query":      question,
		})
		if err != nil {
			return err
		}

		var result struct {
			SessionID                string   `json:"session_id"`
			Reply                    string   `json:"reply"`
			GuidanceCaution          string   `json:"guidance_caution"`
			AdditionalResourcePrompt string   `json:"additional_resource_prompt"`
			CitedChunkIDs            []string `json:"cited_chunk_ids"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Reply)
		if result.GuidanceCaution != "" {
			fmt.Println()
			printWarning("%s", result.GuidanceCaution)
		}
		if result.AdditionalResourcePrompt != "" {
			printStep("%s", result.AdditionalResourcePrompt)
		}
		if len(result.CitedChunkIDs) > 0 {
			printStatus("Sources", "%s", strings.Join(result.CitedChunkIDs, ", "))
		}
		printStatus("Session", "%s", result.SessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue a conversation")
}

// --- rebuild ---

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rescan the document directory and rebuild the index if it changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/rebuild", nil)
		if err != nil {
			return err
		}

		var result struct {
			Documents int  `json:"documents"`
			Chunks    int  `json:"chunks"`
			Reused    bool `json:"reused"`
			Skipped   []struct {
				Path  string `json:"path"`
				Error string `json:"error"`
			} `json:"skipped"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Reused {
			printSuccess("Index already up to date (%d chunks)", result.Chunks)
			return nil
		}
		printSuccess("Indexed %d chunks from %d documents", result.Chunks, result.Documents)
		for _, s := range result.Skipped {
			printWarning("skipped %s: %s", s.Path, s.Error)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingestion status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/status")
		if err != nil {
			printStatus("Server", "not running")
			return nil
		}

		var result struct {
			Stage       string `json:"stage"`
			FailedStage string `json:"failed_stage"`
			Documents   int    `json:"documents"`
			Chunks      int    `json:"chunks"`
			Reused      bool   `json:"reused"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Stage", "%s", result.Stage)
		if result.FailedStage != "" {
			printStatus("Failed in", "%s", result.FailedStage)
		}
		if result.Chunks > 0 {
			printStatus("Documents", "%d", result.Documents)
			printStatus("Chunks", "%d", result.Chunks)
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the turns of a conversation session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/" + args[0] + "/history")
		if err != nil {
			return err
		}

		var result struct {
			SessionID string `json:"session_id"`
			Turns     []struct {
				Query string `json:"query"`
				Reply string `json:"reply"`
				At    string `json:"at"`
			} `json:"turns"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, t := range result.Turns {
			fmt.Printf("%s %s\n", colorize(colorCyan, "Q:"), t.Query)
			fmt.Printf("%s %s\n\n", colorize(colorGreen, "A:"), t.Reply)
		}
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect the durable interaction log",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Interactions []struct {
				ID        string `json:"ID"`
				CreatedAt string `json:"CreatedAt"`
				Query     string `json:"Query"`
			} `json:"interactions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, ix := range result.Interactions {
			query := ix.Query
			if len(query) > 80 {
				query = query[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, ix.ID[:8]),
				ix.CreatedAt,
				query,
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions/" + args[0])
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}
