package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/capture"
	"github.com/0xsequence/identity-flow/input"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/spf13/cobra"
)

type loginOptions struct {
	DeviceID     string
	Photo        string
	Resume       string
	MaxTransient int
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run the verification flow interactively",
		Long: `Run the verification flow interactively, reading each stage's input from stdin.

The face stage captures the still image given by --photo (JPEG, PNG or WebP), cropped
to the configured square capture size. Motion patterns are typed as directions, e.g.
"up up left" or "u,u,l".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if opts.DeviceID == "" {
				opts.DeviceID = cfg.API.DeviceID
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := a.serveMetrics(cmd.Context()); err != nil {
				return err
			}

			authSessionID, err := a.login(cmd.Context(), opts, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), authSessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.DeviceID, "device-id", "", "Capture device identifier sent as pico_id, overrides api.device_id")
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "Still image used for the face stage")
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "Flow id of an interrupted flow to resume")
	cmd.Flags().IntVar(&opts.MaxTransient, "max-transient", 3, "Give up after this many consecutive unreachable-server errors")

	return cmd
}

// login drives the flow until it is authenticated or failed and returns the auth
// session id.
func (a *app) login(ctx context.Context, opts *loginOptions, in io.Reader, out io.Writer) (string, error) {
	o := auth.NewOrchestrator(a.sender, &terminalNavigator{out: out}, a.orchestratorOptions(opts.DeviceID)...)
	if opts.Resume != "" {
		if err := o.Resume(ctx, opts.Resume); err != nil {
			return "", err
		}
	}
	fmt.Fprintf(out, "flow %s\n", o.FlowID())

	lines := bufio.NewScanner(in)
	transient := 0
	for {
		session := o.Session()
		switch session.Stage {
		case proto.Stage_Authenticated:
			return session.AuthSessionID, nil
		case proto.Stage_Failed:
			return "", fmt.Errorf("verification failed")
		}

		if session.Stage == proto.Stage_MotionPattern && opts.DeviceID != "" {
			unique, err := a.client.CheckDeviceUnique(ctx, opts.DeviceID)
			if err != nil {
				a.log.Warn().Err(err).Str("device", opts.DeviceID).Msg("device check failed")
			} else if !unique {
				fmt.Fprintf(out, "device %s is in use by another login\n", opts.DeviceID)
			}
		}

		payload, err := a.readPayload(ctx, session.Stage, lines, out, opts)
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("input closed during %s stage", session.Stage)
		}
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}

		_, err = o.Submit(ctx, session.Stage, payload)
		switch {
		case err == nil:
			transient = 0
		case errors.Is(err, proto.ErrTransientTransport):
			transient++
			if transient >= opts.MaxTransient {
				return "", err
			}
		case errors.Is(err, proto.ErrProtocol):
			transient = 0
		default:
			return "", err
		}
	}
}

func (a *app) readPayload(ctx context.Context, stage proto.Stage, lines *bufio.Scanner, out io.Writer, opts *loginOptions) (proto.Payload, error) {
	if stage == proto.Stage_FaceRecognition {
		path := opts.Photo
		if path == "" {
			line, err := prompt(lines, out, "photo path")
			if err != nil {
				return proto.Payload{}, err
			}
			path = strings.TrimSpace(line)
		}
		return a.capturePhoto(ctx, path)
	}

	label := string(stage)
	if stage == proto.Stage_MotionPattern {
		label = "motion pattern (up/down/left/right)"
	}
	line, err := prompt(lines, out, label)
	if err != nil {
		return proto.Payload{}, err
	}
	return input.Payload(stage, line)
}

// capturePhoto runs the still image through the capture pipeline so the server gets
// the same square cover-crop a live camera would produce.
func (a *app) capturePhoto(ctx context.Context, path string) (proto.Payload, error) {
	acquirer := &capture.FileAcquirer{Path: path}
	constraints := capture.Constraints{
		Width:      a.cfg.Capture.Width,
		Height:     a.cfg.Capture.Height,
		FacingMode: capture.FacingMode(a.cfg.Capture.FacingMode),
	}
	stream, err := acquirer.Acquire(ctx, constraints)
	if err != nil {
		return proto.Payload{}, err
	}

	p := capture.NewPipeline(capture.NewImageSurface(),
		capture.WithAspectRatio(a.cfg.Capture.AspectRatio),
		capture.WithFlashDuration(a.cfg.Capture.FlashDuration),
		capture.WithLogger(a.log),
		capture.WithObserver(a.metrics),
	)
	p.AttachStream(stream)
	p.Resize(constraints.Width)

	artifact, err := p.Capture()
	if err != nil {
		return proto.Payload{}, err
	}
	return proto.ImagePayload(artifact), nil
}

func prompt(lines *bufio.Scanner, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	if !lines.Scan() {
		if err := lines.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(lines.Text(), "\r"), nil
}
