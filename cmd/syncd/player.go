package main

import (
	"context"

	"github.com/mbeoliero/kit/log"
)

// logPlayer stands in for an audio device in the headless daemon
type logPlayer struct{}

func (logPlayer) Start(ctx context.Context, id, resource string) error {
	log.CtxInfo(ctx, "playback start: id=%s, resource=%s", id, resource)
	return nil
}

func (logPlayer) Stop(ctx context.Context, id string) error {
	log.CtxInfo(ctx, "playback stop: id=%s", id)
	return nil
}

func (logPlayer) Pause(ctx context.Context, id string) error {
	log.CtxInfo(ctx, "playback pause: id=%s", id)
	return nil
}
