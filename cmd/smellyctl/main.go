// Command smellyctl is a thin client for a running smellynode: submit a
// transaction or fetch a work template over the node's JSON API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/smellychain/smellynode/txn"
)

func main() {
	app := &cli.App{
		Name:  "smellyctl",
		Usage: "submit transactions / query a running smellynode",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node", Value: "http://127.0.0.1:8645", Usage: "node HTTP API base URL"},
		},
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "submit a signed transaction JSON file",
				ArgsUsage: "<tx.json>",
				Action:    submitAction,
			},
			{
				Name:   "work",
				Usage:  "fetch a work template",
				Action: getWorkAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func submitAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("usage: smellyctl submit <tx.json>")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tx file: %w", err)
	}
	var tx txn.Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return fmt.Errorf("parse tx json: %w", err)
	}

	resp, err := http.Post(c.String("node")+"/tx_submit", "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("post tx: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	return nil
}

func getWorkAction(c *cli.Context) error {
	resp, err := http.Get(c.String("node") + "/get_work")
	if err != nil {
		return fmt.Errorf("get work: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	return nil
}
