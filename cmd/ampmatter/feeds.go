package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ampmatter/ampmatter-core/internal/api"
	"github.com/ampmatter/ampmatter-core/internal/connection"
	"github.com/ampmatter/ampmatter-core/internal/feeds"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/config"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/influxdb"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/logging"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/mqtt"
	"github.com/ampmatter/ampmatter-core/internal/journal"
	"github.com/ampmatter/ampmatter-core/internal/signalk"
	"github.com/ampmatter/ampmatter-core/internal/supervisor"
)

// pruneInterval is how often the connection journal is trimmed.
const pruneInterval = 24 * time.Hour

// startFeeds creates every enabled MQTT feed, registers it with the
// supervisor and hands its read/control surface to the API.
//
// Each feed owns its own broker session, so one stalled subscription
// cannot take the others down.
func startFeeds(cfg *config.Config, log *logging.Logger, sup *supervisor.Supervisor, hub *api.Hub, influxClient *influxdb.Client, deps *api.Deps) error {
	fd := feeds.Deps{
		Broker: feeds.Broker{
			URL:      cfg.MQTT.URL,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			// #nosec G115 -- validated to 0..2 by config.Validate
			QoS:            byte(cfg.MQTT.QoS),
			ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
		},
		Dialer:      mqtt.NewDialer(log.Component("mqtt")),
		Logger:      log.Component("feeds"),
		Broadcaster: hub,
		Observers:   []func(connection.Event){sup.Observe},
	}
	if influxClient != nil {
		fd.Recorder = influxClient
	}

	register := func(m supervisor.Managed) error {
		if err := sup.Register(m); err != nil {
			m.Close()
			return fmt.Errorf("registering %s: %w", m.Manager().Name(), err)
		}
		log.Info("feed started", "connection", m.Manager().Name())
		return nil
	}

	f := cfg.Feeds
	if f.Sensors.Enabled {
		sensors := feeds.NewSensors(fd)
		if err := register(sensors); err != nil {
			return err
		}
		deps.Sensors = sensors
	}

	if f.Relays.Enabled {
		defs := make([]feeds.RelayDef, 0, len(f.Relays.Relays))
		for _, r := range f.Relays.Relays {
			defs = append(defs, feeds.RelayDef{ID: r.ID, Name: r.Name})
		}
		relays := feeds.NewRelays(fd, f.Relays.TopicPrefix, defs)
		if err := register(relays); err != nil {
			return err
		}
		deps.Relays = relays
	}

	if f.Victron.Enabled {
		victron := feeds.NewVictron(fd, f.Victron.TopicPrefix, f.Victron.Instance)
		if err := register(victron); err != nil {
			return err
		}
		deps.Victron = victron
	}

	if f.Weather.Enabled {
		weather := feeds.NewWeather(fd)
		if err := register(weather); err != nil {
			return err
		}
		deps.Weather = weather
	}

	if f.GPS.Enabled {
		gps := feeds.NewGPS(fd, f.GPS.TopicPrefix)
		if err := register(gps); err != nil {
			return err
		}
		deps.Navigation = gps
	}

	return nil
}

// startSignalK opens the SignalK stream when enabled. Hello frames and
// fanned-out delta values go straight to the dashboard WebSocket.
func startSignalK(cfg *config.Config, log *logging.Logger, sup *supervisor.Supervisor, hub *api.Hub, deps *api.Deps) error {
	if !cfg.SignalK.Enabled {
		log.Info("SignalK disabled")
		return nil
	}

	skLog := log.Component("signalk")
	client := signalk.New(cfg.SignalK.URL,
		signalk.WithLogger(skLog),
		signalk.WithObserver(sup.Observe),
		signalk.OnHello(func(selfID string) {
			skLog.Info("SignalK hello received", "self", selfID)
			hub.Broadcast(api.ChannelSignalKHello, map[string]string{"self": selfID})
		}),
		signalk.OnValue(func(v signalk.Value) {
			hub.Broadcast(api.ChannelSignalKDelta, v)
		}),
	)
	if err := sup.Register(client); err != nil {
		client.Close()
		return fmt.Errorf("registering %s: %w", signalk.Name, err)
	}
	deps.SignalK = client

	log.Info("SignalK stream started", "url", client.URL())
	return nil
}

// pruneJournal trims journal entries older than the retention window,
// once at startup and then every pruneInterval until ctx is done.
func pruneJournal(ctx context.Context, jrn *journal.Journal, retentionDays int, log *logging.Logger) {
	retention := time.Duration(retentionDays) * 24 * time.Hour

	prune := func() {
		removed, err := jrn.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("journal prune failed", "error", err)
			}
			return
		}
		if removed > 0 {
			log.Info("journal pruned", "removed", removed, "retention_days", retentionDays)
		}
	}

	prune()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
