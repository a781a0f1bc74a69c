package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/devserver"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

// demoEvents is the rotation published by --demo-interval.
var demoEvents = []devserver.EventInput{
	{Type: "appointment.created", Source: string(push.SourcePrimaryChannel), Payload: map[string]any{"clientName": "Ada", "serviceName": "Haircut", "date": "10:30"}},
	{Type: "bot.message.received", Source: string(push.SourcePrimaryChannel), Payload: map[string]any{"from": "Ada", "text": "Can I bring a friend?"}},
	{Type: "appointment.confirmed", Source: string(push.SourceAdminPanel), Payload: map[string]any{"clientName": "Ada", "serviceName": "Haircut"}},
	{Type: "user.login", Source: string(push.SourceAdminPanel), Payload: map[string]any{"userId": "admin"}},
	{Type: "service.updated", Source: string(push.SourceAdminPanel), Payload: map[string]any{"serviceName": "Haircut"}},
	{Type: "bot.booking.completed", Source: string(push.SourcePrimaryChannel), Payload: map[string]any{"clientName": "Grace"}},
	{Type: "appointment.cancelled", Source: string(push.SourceAPI), Payload: map[string]any{"clientName": "Grace", "serviceName": "Shave", "date": "16:00"}},
}

// nextDemoEvent returns the i-th event of the rotation.
func nextDemoEvent(i int) devserver.EventInput {
	ev := demoEvents[i%len(demoEvents)]
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = v
	}
	ev.Payload = payload
	return ev
}

func runDemo(ctx context.Context, srv *devserver.Server, every time.Duration) {
	log := logger.Named("demo")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := srv.Publish(nextDemoEvent(i))
			if err != nil {
				log.Warn("Demo publish failed", zap.Error(err))
				continue
			}
			log.Debug("Demo event published", zap.String("event_id", out.EventID), zap.Int("delivered", out.Delivered))
		}
	}
}
