package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cadpipe/internal/api"
)

const timeDisplay = "2006-01-02 15:04:05"

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func displayTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeDisplay)
}

func displayTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return displayTime(*t)
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <project> <script-file>",
		Short: "Submit a build script as the project's next version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, path := args[0], args[1]
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}

			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			var response api.SubmitResponse
			err = newClient(base).postJSON(cmd.Context(),
				"/api/projects/"+project+"/scripts", content, "text/x-python", &response)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			fmt.Printf("Submitted %s version %d (run %s, %s)\n",
				response.Project, response.Version, response.RunID, response.State)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project>",
		Short: "Show the latest run of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			var response api.StatusResponse
			if err := newClient(base).getJSON(cmd.Context(), "/api/projects/"+args[0]+"/status", &response); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			printStatus(&response)
			return nil
		},
	}
}

func printStatus(status *api.StatusResponse) {
	rows := [][]string{
		{"Project", status.Project},
		{"Version", strconv.Itoa(status.Version)},
		{"State", status.State},
		{"Submitted", displayTime(status.SubmittedAt)},
		{"Deadline", displayTime(status.TimeoutAt)},
		{"Last checked", displayTimePtr(status.LastCheckedAt)},
		{"Polls", strconv.Itoa(status.PollCount)},
		{"Finished", displayTimePtr(status.FinishedAt)},
	}
	if status.Message != "" {
		rows = append(rows, []string{"Message", status.Message})
	}
	formats := "-"
	if len(status.AvailableFormats) > 0 {
		formats = ""
		for i, f := range status.AvailableFormats {
			if i > 0 {
				formats += ", "
			}
			formats += f
		}
	}
	rows = append(rows, []string{"Formats", formats})
	fmt.Println(renderTable([]string{"Field", "Value"}, rows, nil))
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string
	cmd := &cobra.Command{
		Use:   "download <project>",
		Short: "Resolve a download link for the best available format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			path := "/api/projects/" + args[0] + "/download"
			if formatFlag != "" {
				path += "?format=" + formatFlag
			}
			var response api.DownloadResponse
			if err := newClient(base).getJSON(cmd.Context(), path, &response); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			fmt.Printf("%s (%s), link valid until %s:\n%s\n",
				response.Key, response.Format, displayTime(response.ExpiresAt), response.URL)
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Specific format (STEP, IGES, FCSTD, STL, OBJ)")
	return cmd
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "runs <project>",
		Short: "List a project's run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			var response api.RunListResponse
			if err := newClient(base).getJSON(cmd.Context(), "/api/projects/"+args[0]+"/runs", &response); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			rows := make([][]string, 0, len(response.Runs))
			for _, run := range response.Runs {
				rows = append(rows, []string{
					strconv.Itoa(run.Version),
					run.State,
					displayTime(run.StartedAt),
					displayTimePtr(run.FinishedAt),
					strconv.Itoa(run.PollCount),
					run.Message,
				})
			}
			fmt.Println(renderTable(
				[]string{"Version", "State", "Started", "Finished", "Polls", "Message"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newScriptsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scripts <project> [version]",
		Short: "List a project's submitted script versions, or print one script",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			if len(args) == 2 {
				if _, err := strconv.Atoi(args[1]); err != nil {
					return fmt.Errorf("version %q is not a number", args[1])
				}
				content, err := newClient(base).getRaw(cmd.Context(),
					"/api/projects/"+args[0]+"/scripts?version="+args[1])
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(content)
				return err
			}
			var response api.ScriptListResponse
			if err := newClient(base).getJSON(cmd.Context(), "/api/projects/"+args[0]+"/scripts", &response); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			rows := make([][]string, 0, len(response.Scripts))
			for _, script := range response.Scripts {
				rows = append(rows, []string{
					strconv.Itoa(script.Version),
					script.StorageKey,
					strconv.FormatInt(script.Size, 10),
					displayTime(script.UploadedAt),
				})
			}
			fmt.Println(renderTable(
				[]string{"Version", "Key", "Bytes", "Uploaded"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <project> [key]",
		Short: "List worker logs recorded for a project, or print one log",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			if len(args) == 2 {
				content, err := newClient(base).getRaw(cmd.Context(),
					"/api/projects/"+args[0]+"/logs?key="+url.QueryEscape(args[1]))
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(content)
				return err
			}
			var response api.LogListResponse
			if err := newClient(base).getJSON(cmd.Context(), "/api/projects/"+args[0]+"/logs", &response); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			rows := make([][]string, 0, len(response.Logs))
			for _, record := range response.Logs {
				rows = append(rows, []string{
					strconv.Itoa(record.Version),
					record.StorageKey,
					displayTime(record.LoggedAt),
				})
			}
			fmt.Println(renderTable(
				[]string{"Version", "Key", "Logged"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <project>",
		Short: "Force an immediate poll of the project's active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			var response api.StatusResponse
			if err := newClient(base).postJSON(cmd.Context(), "/api/projects/"+args[0]+"/check", nil, "", &response); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(response)
			}
			printStatus(&response)
			return nil
		},
	}
}

func newServerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			var status api.DaemonStatus
			if err := newClient(base).getJSON(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(status)
			}
			rows := [][]string{
				{"Running", strconv.FormatBool(status.Running)},
				{"PID", strconv.Itoa(status.PID)},
				{"Started", displayTime(status.StartedAt)},
				{"Ledger", status.LedgerPath},
				{"Lock file", status.LockFilePath},
				{"Bucket", status.Bucket},
				{"Active runs", strconv.Itoa(status.ActiveRuns)},
				{"Projects", strconv.Itoa(status.Projects)},
			}
			fmt.Println(renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}
