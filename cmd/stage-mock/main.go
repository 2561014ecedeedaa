package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xsequence/identity-flow/config"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/0xsequence/identity-flow/rpc/mock"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		if os.Getenv("CONFIG") != "" {
			panic(err)
		}
		cfg, err = config.Parse("")
		if err != nil {
			panic(err)
		}
	}

	flow := make([]proto.Stage, len(cfg.Mock.Flow))
	for i, stage := range cfg.Mock.Flow {
		flow[i] = proto.Stage(stage)
	}

	s := mock.New(mock.Options{
		Flow:           flow,
		Email:          cfg.Mock.Email,
		Password:       cfg.Mock.Password,
		MotionPattern:  cfg.Mock.MotionPattern,
		SessionExpiry:  cfg.Mock.SessionExpiry,
		AllowedOrigins: cfg.Mock.AllowedOrigins,
	})
	defer s.Stop(context.Background())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Mock.Port))
	if err != nil {
		panic(err)
	}

	if err := s.Run(ctx, l); err != nil {
		panic(err)
	}
}
