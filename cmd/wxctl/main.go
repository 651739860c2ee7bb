// Command wxctl talks to a running webextract over its NATS IPC topic.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mtzanidakis/webextract/internal/ipc"
	"github.com/mtzanidakis/webextract/internal/natsbus"
	"github.com/mtzanidakis/webextract/internal/pipeline"
)

var errUsage = errors.New("usage")

func sendIPC(natsURL, cmdType string, payload any) (*ipc.Response, error) {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	cmd := map[string]any{"type": cmdType}
	if payload != nil {
		cmd["payload"] = payload
	}
	var resp ipc.Response
	if err := client.RequestJSON(natsbus.TopicIPC, cmd, &resp, 10*time.Second); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// parseArgs collects --name value and -n value pairs.
func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			break
		}
		switch {
		case len(args[i]) > 2 && strings.HasPrefix(args[i], "--"):
			result[args[i][2:]] = args[i+1]
			i++
		case len(args[i]) == 2 && args[i][0] == '-' && args[i][1] != '-':
			result[args[i][1:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  wxctl submit -f pipeline.yaml")
	fmt.Fprintln(w, `  wxctl status --id "..."`)
	fmt.Fprintln(w, `  wxctl cancel --id "..."`)
	fmt.Fprintln(w, "  wxctl list")
}

func run(natsURL string, argv []string, out io.Writer) error {
	if len(argv) < 1 {
		return errUsage
	}
	command, args := argv[0], parseArgs(argv[1:])

	switch command {
	case "submit":
		path := args["f"]
		if path == "" {
			path = args["file"]
		}
		if path == "" {
			return errors.New("-f is required")
		}
		spec, err := pipeline.LoadFile(path)
		if err != nil {
			return err
		}
		resp, err := sendIPC(natsURL, ipc.CmdSubmitRun, map[string]any{"spec": spec})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Run submitted: %s\n", resp.ID)

	case "status":
		if args["id"] == "" {
			return errors.New("--id is required")
		}
		resp, err := sendIPC(natsURL, ipc.CmdRunStatus, map[string]string{"id": args["id"]})
		if err != nil {
			return err
		}
		r := resp.Run
		fmt.Fprintf(out, "%s  %s  %s\n", r.ID, r.Status, r.Name)
		if r.Reason != "" {
			fmt.Fprintf(out, "  reason: %s\n", r.Reason)
		}
		for _, res := range r.Results {
			line := fmt.Sprintf("  - %s (%s): %s", res.Agent, res.Capability, res.Outcome)
			if res.Detail != "" {
				line += " " + res.Detail
			}
			fmt.Fprintln(out, line)
		}

	case "cancel":
		if args["id"] == "" {
			return errors.New("--id is required")
		}
		if _, err := sendIPC(natsURL, ipc.CmdCancelRun, map[string]string{"id": args["id"]}); err != nil {
			return err
		}
		fmt.Fprintln(out, "Run cancelled.")

	case "list":
		resp, err := sendIPC(natsURL, ipc.CmdListRuns, nil)
		if err != nil {
			return err
		}
		if len(resp.Runs) == 0 {
			fmt.Fprintln(out, "No runs found.")
			return nil
		}
		for _, r := range resp.Runs {
			fmt.Fprintf(out, "  %s  %-16s  %s  [%d/%d ok]\n", r.ID, r.Status, r.Name, r.Succeeded(), len(r.Results))
		}

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if err := run(natsURL, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
