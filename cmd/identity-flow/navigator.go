package main

import (
	"context"
	"fmt"
	"io"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/proto"
)

// terminalNavigator reports every decision to the user.
type terminalNavigator struct {
	out io.Writer
}

var _ auth.Navigator = (*terminalNavigator)(nil)

func (n *terminalNavigator) OnRetry(_ context.Context, _ proto.Stage, message string) {
	fmt.Fprintln(n.out, message)
}

func (n *terminalNavigator) OnAdvance(_ context.Context, stage proto.Stage) {
	route, err := auth.RouteFor(stage)
	if err != nil {
		route = "?"
	}
	fmt.Fprintf(n.out, "-> %s (%s)\n", stage, route)
}

func (n *terminalNavigator) OnAuthenticated(_ context.Context, authSessionID string) {
	fmt.Fprintf(n.out, "authenticated, auth session %s\n", authSessionID)
}

func (n *terminalNavigator) OnProtocolError(_ context.Context, err error) {
	fmt.Fprintf(n.out, "unexpected response from the server: %v\n", err)
}

func (n *terminalNavigator) OnTransientError(_ context.Context, err error) {
	fmt.Fprintf(n.out, "server could not be reached, try again: %v\n", err)
}
