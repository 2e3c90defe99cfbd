package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// Thin HTTP clients for the operator API, so a shell on the host can
// drive the running engine without extra tooling.

var apiClient = &http.Client{Timeout: 5 * time.Second}

func runStatus(_ *cobra.Command, _ []string) error {
	resp, err := apiClient.Get(apiBase + "/status")
	if err != nil {
		return fmt.Errorf("operator API unreachable: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func runArm(cmd *cobra.Command, _ []string) error {
	return postOperator(cmd, "/arm")
}

func runDisarm(cmd *cobra.Command, _ []string) error {
	return postOperator(cmd, "/disarm")
}

func runResetBreaker(cmd *cobra.Command, _ []string) error {
	return postOperator(cmd, "/breaker/reset")
}

func runRecordOutcome(cmd *cobra.Command, _ []string) error {
	symbol, err := cmd.Flags().GetString("symbol")
	if err != nil {
		return err
	}
	pattern, err := cmd.Flags().GetString("pattern")
	if err != nil {
		return err
	}
	pnl, err := cmd.Flags().GetFloat64("pnl")
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]interface{}{
		"symbol":  symbol,
		"pattern": pattern,
		"pnl":     pnl,
	})
	if err != nil {
		return err
	}
	resp, err := apiClient.Post(apiBase+"/outcome", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("operator API unreachable: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func postOperator(cmd *cobra.Command, path string) error {
	operator, err := cmd.Flags().GetString("operator")
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"operator_id": operator})
	if err != nil {
		return err
	}
	resp, err := apiClient.Post(apiBase+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("operator API unreachable: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, payload, "", "  ") == nil {
		payload = pretty.Bytes()
	}
	fmt.Println(string(payload))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("operator API returned %s", resp.Status)
	}
	return nil
}
