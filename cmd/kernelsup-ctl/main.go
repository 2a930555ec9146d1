// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// kernelsup-ctl is a command-line tool for controlling a running kernelsup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/wingedpig/kernelsup/internal/api/handlers"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/notify"
	"github.com/wingedpig/kernelsup/internal/session"
)

var (
	ctlVersion = "0.1.0"
	apiURL     = "http://127.0.0.1:8765"
	jsonOutput = false

	stdout io.Writer = os.Stdout

	// API client instance
	api *apiClient
)

func main() {
	// Check for KERNELSUP_API environment variable
	if env := os.Getenv("KERNELSUP_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	api = newAPIClient(apiURL, 60*time.Second)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	if err := run(filteredArgs[0], filteredArgs[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	switch cmd {
	case "status":
		return cmdStatus(args)
	case "start":
		return cmdStart(args)
	case "restart":
		return cmdRestart(args)
	case "sessions":
		return cmdSessions(args)
	case "session":
		return cmdSession(args)
	case "valid":
		return cmdValid(args)
	case "reconnect":
		return cmdReconnect(args)
	case "output":
		return cmdOutput(args)
	case "events":
		return cmdEvents(args)
	case "notices":
		return cmdNotices(args)
	case "ack":
		return cmdAck(args)
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "kernelsup-ctl %s\n", ctlVersion)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Println(`kernelsup-ctl - Control a running kernelsup

Usage:
  kernelsup-ctl [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Environment:
  KERNELSUP_API  Base URL of the kernelsup API (default: http://127.0.0.1:8765)

Commands:
  status                   Show the supervisor server status
  start                    Start the supervisor server if it is not running
  restart                  Restart the supervisor server

  sessions                 List sessions managed by the supervisor
  session <id>             Show one session
  valid <id>               Check whether a session can be restored
  reconnect <id>           Force the session's event stream to reconnect

  output [options]         Show supervisor output
    -n N                   Number of lines (default: 100)
    -grep <pattern>        Only show lines matching a regex

  events [options]         Show recent events
    -n N                   Number of events (default: 50)
    -type <type>           Only show this event type (can repeat)
    -f                     Stream events in real-time

  notices                  List unacknowledged notices
  ack <id>                 Acknowledge a notice

  version                  Show version
  help                     Show this help`)
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(stdout, string(out))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func cmdStatus(args []string) error {
	var resp handlers.SupervisorResponse
	if err := api.get(context.Background(), "/api/v1/supervisor", &resp); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(resp)
		return nil
	}

	state := "stopped"
	switch {
	case resp.Started:
		state = "running"
	case resp.Starting:
		state = "starting"
	}
	pid := "-"
	if resp.PID > 0 {
		pid = strconv.Itoa(resp.PID)
	}

	fmt.Fprintf(stdout, "%-16s %s\n", "State:", state)
	fmt.Fprintf(stdout, "%-16s %s\n", "PID:", pid)
	fmt.Fprintf(stdout, "%-16s %s\n", "Address:", dash(resp.BasePath))
	fmt.Fprintf(stdout, "%-16s %s\n", "Version:", dash(resp.Version))
	fmt.Fprintf(stdout, "%-16s %s\n", "Log file:", dash(resp.LogPath))
	fmt.Fprintf(stdout, "%-16s %d\n", "Sessions:", resp.Sessions)
	fmt.Fprintf(stdout, "%-16s %d\n", "Idle shutdown:", resp.IdleHours)
	if resp.Server != nil {
		fmt.Fprintf(stdout, "%-16s %d active, busy=%t, idle %ds\n", "Server:",
			resp.Server.Active, resp.Server.Busy, resp.Server.IdleSeconds)
	}
	if resp.ServerError != "" {
		fmt.Fprintf(stdout, "%-16s %s\n", "Server error:", resp.ServerError)
	}
	return nil
}

func cmdStart(args []string) error {
	if err := api.post(context.Background(), "/api/v1/supervisor/start", nil, nil); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Fprintln(stdout, "Supervisor started")
	}
	return nil
}

func cmdRestart(args []string) error {
	if err := api.post(context.Background(), "/api/v1/supervisor/restart", nil, nil); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Fprintln(stdout, "Supervisor restarted")
	}
	return nil
}

func cmdSessions(args []string) error {
	var sessions []session.Info
	if err := api.get(context.Background(), "/api/v1/sessions", &sessions); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sessions)
		return nil
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Metadata.SessionID < sessions[j].Metadata.SessionID
	})

	fmt.Fprintf(stdout, "%-24s %-14s %-12s %-20s %s\n", "SESSION", "STATE", "LANGUAGE", "NAME", "DETAIL")
	fmt.Fprintln(stdout, strings.Repeat("-", 90))
	for _, s := range sessions {
		fmt.Fprintf(stdout, "%-24s %-14s %-12s %-20s %s\n",
			s.Metadata.SessionID,
			s.State,
			dash(s.Runtime.LanguageName),
			dash(s.Metadata.SessionName),
			sessionDetail(s),
		)
	}
	return nil
}

func sessionDetail(s session.Info) string {
	switch {
	case s.Offline != "":
		if len(s.Offline) > 40 {
			return s.Offline[:40] + "..."
		}
		return s.Offline
	case s.Exit != nil:
		return fmt.Sprintf("exit %d (%s)", s.Exit.Code, s.Exit.Reason)
	default:
		return "-"
	}
}

func cmdSession(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kernelsup-ctl session <id>")
	}
	var info session.Info
	if err := api.get(context.Background(), "/api/v1/sessions/"+args[0], &info); err != nil {
		return err
	}
	printJSON(info)
	return nil
}

func cmdValid(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kernelsup-ctl valid <id>")
	}
	var resp handlers.ValidResponse
	if err := api.get(context.Background(), "/api/v1/sessions/"+args[0]+"/valid", &resp); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(resp)
		return nil
	}
	if resp.Valid {
		fmt.Fprintf(stdout, "%s is running\n", resp.SessionID)
	} else {
		fmt.Fprintf(stdout, "%s is not running\n", resp.SessionID)
	}
	return nil
}

func cmdReconnect(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kernelsup-ctl reconnect <id>")
	}
	if err := api.post(context.Background(), "/api/v1/sessions/"+args[0]+"/reconnect", nil, nil); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Fprintf(stdout, "Reconnecting %s\n", args[0])
	}
	return nil
}

func cmdOutput(args []string) error {
	fs := flag.NewFlagSet("output", flag.ContinueOnError)
	lines := fs.Int("n", 100, "number of lines")
	grep := fs.String("grep", "", "regex filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var re *regexp.Regexp
	if *grep != "" {
		var err error
		if re, err = regexp.Compile(*grep); err != nil {
			return fmt.Errorf("invalid -grep pattern: %w", err)
		}
	}

	var out []string
	if err := api.get(context.Background(), "/api/v1/output?lines="+strconv.Itoa(*lines), &out); err != nil {
		return err
	}
	if re != nil {
		filtered := out[:0]
		for _, line := range out {
			if re.MatchString(line) {
				filtered = append(filtered, line)
			}
		}
		out = filtered
	}

	if jsonOutput {
		printJSON(out)
		return nil
	}
	for _, line := range out {
		fmt.Fprintln(stdout, line)
	}
	return nil
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	limit := fs.Int("n", 50, "number of events")
	follow := fs.Bool("f", false, "stream events")
	var types multiFlag
	fs.Var(&types, "type", "event type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *follow {
		pattern := "*"
		if len(types) == 1 {
			pattern = types[0]
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return api.streamEvents(ctx, pattern, printEvent)
	}

	path := "/api/v1/events?limit=" + strconv.Itoa(*limit)
	for _, t := range types {
		path += "&type=" + t
	}
	var evts []events.Event
	if err := api.get(context.Background(), path, &evts); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(evts)
		return nil
	}

	fmt.Fprintf(stdout, "%-20s %-26s %s\n", "TIME", "TYPE", "DETAILS")
	fmt.Fprintln(stdout, strings.Repeat("-", 90))
	for _, evt := range evts {
		printEvent(evt)
	}
	return nil
}

func printEvent(evt events.Event) {
	if jsonOutput {
		data, _ := json.Marshal(evt)
		fmt.Fprintln(stdout, string(data))
		return
	}
	keys := make([]string, 0, len(evt.Payload))
	for k := range evt.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, evt.Payload[k]))
	}
	fmt.Fprintf(stdout, "%-20s %-26s %s\n",
		evt.Timestamp.Local().Format("2006-01-02 15:04:05"),
		evt.Type,
		strings.Join(parts, " "),
	)
}

func cmdNotices(args []string) error {
	var notices []notify.Notice
	if err := api.get(context.Background(), "/api/v1/notices", &notices); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(notices)
		return nil
	}
	if len(notices) == 0 {
		fmt.Fprintln(stdout, "No open notices")
		return nil
	}
	for _, n := range notices {
		fmt.Fprintf(stdout, "[%s] %s\n  %s\n", n.ID, n.Title, n.Text)
	}
	return nil
}

func cmdAck(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kernelsup-ctl ack <id>")
	}
	if err := api.post(context.Background(), "/api/v1/notices/"+args[0]+"/ack", nil, nil); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Fprintf(stdout, "Acknowledged %s\n", args[0])
	}
	return nil
}
