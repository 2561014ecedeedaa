package auth

import (
	"fmt"

	"github.com/0xsequence/identity-flow/proto"
)

var stageRoutes = map[proto.Stage]string{
	proto.Stage_MotionPattern:   "/sensor",
	proto.Stage_FaceRecognition: "/camera",
}

// RouteFor maps a stage to the screen that collects its data. Stages without a
// dedicated route are served at "/<stage>".
func RouteFor(stage proto.Stage) (string, error) {
	if stage == "" {
		return "", fmt.Errorf("empty stage name")
	}
	if stage.IsTerminal() {
		return "", fmt.Errorf("stage %s has no route", stage)
	}
	if route, ok := stageRoutes[stage]; ok {
		return route, nil
	}
	return "/" + string(stage), nil
}
