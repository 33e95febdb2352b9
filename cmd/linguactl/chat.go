package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cexll/linguahome-go/pkg/agent"
)

func chatCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("chat", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		modelFlag   = set.String("model", "", "Override the model declared in the config file.")
		sessionFlag = set.String("session", "", "Reuse an existing session ID to resume context.")
		configFlag  = set.String("config", cfgPath, "Path to the configuration file.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: linguactl chat [flags]")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nInside the chat: 'clear' starts a fresh session, 'quit' exits.")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
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

	fmt.Fprintf(streams.out, "linguactl chat, session %s\n", sessionID)
	fmt.Fprintln(streams.out, "Type a request, 'clear' for a new session, or 'quit' to exit.")

	scanner := bufio.NewScanner(streams.in)
	for {
		fmt.Fprint(streams.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "clear":
			sessionID = uuid.NewString()
			fmt.Fprintf(streams.out, "started new session %s\n", sessionID)
			continue
		}

		reply, err := a.loop.Submit(ctx, agent.Request{SessionID: sessionID, Utterance: line})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(streams.err, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(streams.out, reply.Response)
	}
}
