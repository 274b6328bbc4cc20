// Package client contains Cobra CLI commands for Engram.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewStreamCommand constructs the `stream` command group and subcommands.
func NewStreamCommand(baseURL BaseURLFunc) *cobra.Command {
	streamCmd := &cobra.Command{Use: "stream", Short: "Stream operations"}

	streamCmd.AddCommand(
		newStreamCreateCommand(baseURL),
		newStreamListCommand(baseURL),
		newStreamPublishCommand(baseURL),
		newStreamGetCommand(baseURL),
		newStreamRangeCommand(baseURL),
		newStreamSampleCommand(baseURL),
		newStreamStatsCommand(baseURL),
		newStreamSubscribeCommand(baseURL),
		newStreamRewardCommand(baseURL),
		newStreamSnapshotCommand(baseURL),
		newStreamFlushCommand(baseURL),
		newStreamCompactCommand(baseURL),
	)

	return streamCmd
}

// newStreamCreateCommand constructs the `stream create` subcommand.
func newStreamCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a stream (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			bufCap, _ := cmd.Flags().GetInt("buffer-capacity")
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			batchTimeoutMs, _ := cmd.Flags().GetInt("batch-timeout-ms")
			queueCap, _ := cmd.Flags().GetInt("queue-capacity")

			body := map[string]any{
				"stream":           name,
				"buffer_capacity":  bufCap,
				"batch_size":       batchSize,
				"batch_timeout_ms": batchTimeoutMs,
				"queue_capacity":   queueCap,
			}
			status, err := postStatus(baseURL(), "/v1/streams/create", body)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Stream name")
	createCmd.Flags().Int("buffer-capacity", 0, "Hot buffer capacity override")
	createCmd.Flags().Int("batch-size", 0, "Journal batch size override")
	createCmd.Flags().Int("batch-timeout-ms", 0, "Journal batch timeout override in ms")
	createCmd.Flags().Int("queue-capacity", 0, "Journal queue capacity override")
	return createCmd
}

// newStreamListCommand constructs the `stream list` subcommand.
func newStreamListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered streams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out any
			if err := getJSON(baseURL(), "/v1/streams/list", &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	return listCmd
}

// newStreamPublishCommand constructs the `stream publish` subcommand.
func newStreamPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			kind, _ := cmd.Flags().GetString("kind")
			step, _ := cmd.Flags().GetUint64("step")
			stateStr, _ := cmd.Flags().GetString("state")
			actionStr, _ := cmd.Flags().GetString("action")
			reward, _ := cmd.Flags().GetFloat64("reward")
			rewardTotal, _ := cmd.Flags().GetFloat64("reward-total")

			state, err := parseFloats(stateStr)
			if err != nil {
				return fmt.Errorf("invalid --state: %w", err)
			}
			action, err := parseFloats(actionStr)
			if err != nil {
				return fmt.Errorf("invalid --action: %w", err)
			}

			body := map[string]any{
				"stream":       st,
				"kind":         kind,
				"step":         step,
				"state":        state,
				"action":       action,
				"reward":       reward,
				"reward_total": rewardTotal,
			}
			var out struct {
				Stream string `json:"stream"`
				Seq    uint64 `json:"seq"`
			}
			if err := postJSON(baseURL(), "/v1/streams/publish", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	publishCmd.Flags().String("stream", "", "Stream")
	publishCmd.Flags().String("kind", "experience-added", "Event kind: state-created|experience-added|edge-updated")
	publishCmd.Flags().Uint64("step", 0, "Environment step counter")
	publishCmd.Flags().String("state", "", "State vector, comma-separated floats")
	publishCmd.Flags().String("action", "", "Action vector, comma-separated floats")
	publishCmd.Flags().Float64("reward", 0, "Immediate reward")
	publishCmd.Flags().Float64("reward-total", 0, "Cumulative reward")
	return publishCmd
}

// newStreamGetCommand constructs the `stream get` subcommand.
func newStreamGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a single live event by sequence number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			seq, _ := cmd.Flags().GetUint64("seq")

			q := url.Values{}
			q.Set("stream", st)
			q.Set("seq", strconv.FormatUint(seq, 10))
			var out any
			if err := getJSON(baseURL(), "/v1/streams/get?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	getCmd.Flags().String("stream", "", "Stream")
	getCmd.Flags().Uint64("seq", 0, "Sequence number")
	return getCmd
}

// newStreamRangeCommand constructs the `stream range` subcommand.
func newStreamRangeCommand(baseURL BaseURLFunc) *cobra.Command {
	rangeCmd := &cobra.Command{
		Use:   "range",
		Short: "Fetch live events in a half-open [start, end) sequence window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			start, _ := cmd.Flags().GetUint64("start")
			end, _ := cmd.Flags().GetUint64("end")

			q := url.Values{}
			q.Set("stream", st)
			if start > 0 {
				q.Set("start", strconv.FormatUint(start, 10))
			}
			if end > 0 {
				q.Set("end", strconv.FormatUint(end, 10))
			}
			var out any
			if err := getJSON(baseURL(), "/v1/streams/range?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	rangeCmd.Flags().String("stream", "", "Stream")
	rangeCmd.Flags().Uint64("start", 0, "Start seq, inclusive")
	rangeCmd.Flags().Uint64("end", 0, "End seq, exclusive (0 = through latest)")
	return rangeCmd
}

// newStreamSampleCommand constructs the `stream sample` subcommand.
func newStreamSampleCommand(baseURL BaseURLFunc) *cobra.Command {
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample events from the hot buffer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			size, _ := cmd.Flags().GetInt("size")
			strategy, _ := cmd.Flags().GetString("strategy")
			kind, _ := cmd.Flags().GetString("kind")
			filter, _ := cmd.Flags().GetString("filter")

			body := map[string]any{
				"stream":   st,
				"size":     size,
				"strategy": strategy,
				"kind":     kind,
				"filter":   filter,
			}
			var out any
			if err := postJSON(baseURL(), "/v1/streams/sample", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	sampleCmd.Flags().String("stream", "", "Stream")
	sampleCmd.Flags().Int("size", 32, "Sample size")
	sampleCmd.Flags().String("strategy", "uniform", "Sampling strategy: uniform|reward_weighted|most_recent|by_kind")
	sampleCmd.Flags().String("kind", "", "Kind filter for by_kind sampling")
	sampleCmd.Flags().String("filter", "", "CEL filter over the candidate pool")
	return sampleCmd
}

// newStreamStatsCommand constructs the `stream stats` subcommand.
func newStreamStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Get stream journal and buffer stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")

			q := url.Values{}
			q.Set("stream", st)
			var out any
			if err := getJSON(baseURL(), "/v1/streams/stats?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	statsCmd.Flags().String("stream", "", "Stream")
	return statsCmd
}

// newStreamSubscribeCommand constructs the `stream subscribe` subcommand.
func newStreamSubscribeCommand(baseURL BaseURLFunc) *cobra.Command {
	subscribeCmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to live events over SSE",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")

			q := url.Values{}
			q.Set("stream", st)
			if filter != "" {
				q.Set("filter", filter)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			u := baseURL() + "/v1/streams/subscribe?" + q.Encode()
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 300 {
				return httpError(resp)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			sc := bufio.NewScanner(resp.Body)
			for sc.Scan() {
				line := sc.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var ev map[string]any
				if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) != nil {
					continue
				}
				_ = enc.Encode(ev)
			}
			return sc.Err()
		},
	}
	subscribeCmd.Flags().String("stream", "", "Stream")
	subscribeCmd.Flags().String("filter", "", "CEL filter (server-side)")
	subscribeCmd.Flags().Int("limit", 0, "Stop after N events (0 = infinite)")
	return subscribeCmd
}

// newStreamRewardCommand constructs the `stream reward` subcommand.
func newStreamRewardCommand(baseURL BaseURLFunc) *cobra.Command {
	rewardCmd := &cobra.Command{
		Use:   "reward",
		Short: "Update the reward of a live event in place",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			seq, _ := cmd.Flags().GetUint64("seq")
			field, _ := cmd.Flags().GetString("field")
			value, _ := cmd.Flags().GetFloat64("value")

			body := map[string]any{
				"stream": st,
				"seq":    seq,
				"field":  field,
				"value":  value,
			}
			status, err := postStatus(baseURL(), "/v1/streams/reward", body)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	rewardCmd.Flags().String("stream", "", "Stream")
	rewardCmd.Flags().Uint64("seq", 0, "Sequence number")
	rewardCmd.Flags().String("field", "reward", "Field to update: reward|reward_total")
	rewardCmd.Flags().Float64("value", 0, "New value")
	return rewardCmd
}

// newStreamSnapshotCommand constructs the `stream snapshot` subcommand.
func newStreamSnapshotCommand(baseURL BaseURLFunc) *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a durable snapshot marker to the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			status, err := postStatus(baseURL(), "/v1/streams/snapshot", map[string]any{"stream": st})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	snapshotCmd.Flags().String("stream", "", "Stream")
	return snapshotCmd
}

// newStreamFlushCommand constructs the `stream flush` subcommand.
func newStreamFlushCommand(baseURL BaseURLFunc) *cobra.Command {
	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Force the journal batch to disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			status, err := postStatus(baseURL(), "/v1/streams/flush", map[string]any{"stream": st})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	flushCmd.Flags().String("stream", "", "Stream")
	return flushCmd
}

// newStreamCompactCommand constructs the `stream compact` subcommand.
func newStreamCompactCommand(baseURL BaseURLFunc) *cobra.Command {
	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Drop journal entries before the last snapshot marker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			confirm, _ := cmd.Flags().GetBool("confirm")

			if st == "" {
				return fmt.Errorf("stream name is required")
			}
			if !confirm {
				return fmt.Errorf("use --confirm to drop replay history before the last snapshot of stream %s", st)
			}

			var out any
			if err := postJSON(baseURL(), "/v1/streams/compact", map[string]any{"stream": st}, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	compactCmd.Flags().String("stream", "", "Stream name")
	compactCmd.Flags().Bool("confirm", false, "Confirm the compact operation")
	return compactCmd
}
