package o11y

import (
	"context"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/proto"
)

type tracedSender struct {
	name string
	auth.Sender
}

func NewTracedSender(name string, sender auth.Sender) auth.Sender {
	return &tracedSender{name: name, Sender: sender}
}

// Send implements auth.Sender.
func (t *tracedSender) Send(ctx context.Context, req *proto.StageRequest) (res *proto.StageResponse, err error) {
	ctx, span := Trace(ctx, t.name+".Send")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	span.SetAnnotation("operation", "stage.submit")
	span.SetAnnotation("stage", string(req.Stage))
	if req.DeviceID != "" {
		span.SetAnnotation("device_id", req.DeviceID)
	}

	res, err = t.Sender.Send(ctx, req)
	if res != nil {
		span.SetStatus(res.Status)
		span.SetAnnotation("next", res.Next.String())
	}
	return res, err
}
