package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/cexll/linguahome-go/pkg/agent"
)

func runCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("run", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		modelFlag   = set.String("model", "", "Override the model declared in the config file.")
		sessionFlag = set.String("session", "", "Reuse an existing session ID to resume context.")
		streamFlag  = set.Bool("stream", false, "Stream pipeline events instead of waiting for completion.")
		configFlag  = set.String("config", cfgPath, "Path to the configuration file.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: linguactl run [flags] \"request\"")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nExamples:")
		fmt.Fprintln(streams.err, "  linguactl run \"what's the temperature in the robot corner?\"")
		fmt.Fprintln(streams.err, "  linguactl run --session kitchen --stream \"turn off the entrance plug\"")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	input := strings.TrimSpace(strings.Join(set.Args(), " "))
	if input == "" {
		return errors.New("run requires a request")
	}

	a, err := buildApp(ctx, *configFlag, *modelFlag, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := strings.TrimSpace(*sessionFlag)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	req := agent.Request{SessionID: sessionID, Utterance: input}

	if *streamFlag {
		return streamRun(ctx, a, req, streams.out)
	}
	reply, err := a.loop.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	writeReply(streams.out, sessionID, reply)
	return nil
}

func streamRun(ctx context.Context, a *app, req agent.Request, out io.Writer) error {
	events, err := a.loop.SubmitStream(ctx, req)
	if err != nil {
		return fmt.Errorf("run stream: %w", err)
	}
	if out == nil {
		for range events {
		}
		return nil
	}
	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	for evt := range events {
		if err := encoder.Encode(evt); err != nil {
			return fmt.Errorf("stream encode: %w", err)
		}
	}
	return nil
}

func writeReply(out io.Writer, sessionID string, reply agent.Reply) {
	if out == nil {
		return
	}
	fmt.Fprintln(out, reply.Response)
	fmt.Fprintf(out, "\n[session %s | turn %s | outcome %s | %s]\n",
		sessionID, reply.TurnID, reply.Outcome, attemptsLabel(reply.Attempts))
}

func attemptsLabel(n int) string {
	if n == 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts", n)
}
