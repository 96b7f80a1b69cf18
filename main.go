package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/sonos-mqtt/cmd"
)

func main() {
	app := &cli.App{
		Name:   "sonos-mqtt",
		Usage:  "bridge sonos zone players onto mqtt",
		Action: cmd.BridgeCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-prefix",
				EnvVars: []string{"MQTT_PREFIX"},
				Value:   "",
			},
			&cli.StringSliceFlag{
				Name:    "sonos-host",
				EnvVars: []string{"SONOS_HOSTS"},
				Usage:   "seed known players instead of waiting for discovery",
			},
			&cli.BoolFlag{
				Name:    "disable-discovery",
				EnvVars: []string{"SONOS_DISABLE_DISCOVERY"},
			},
			&cli.DurationFlag{
				Name:    "debounce-delay",
				EnvVars: []string{"SONOS_DEBOUNCE_DELAY"},
				Value:   400 * time.Millisecond,
			},
			&cli.BoolFlag{
				Name:    "distinct",
				EnvVars: []string{"SONOS_DISTINCT"},
				Usage:   "also publish individual fields under status/<uuid>/<field>",
			},
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
				Value:   "",
				Usage:   "enables the postgres history sink",
			},
			&cli.StringFlag{
				Name:    "http-addr",
				EnvVars: []string{"HTTP_ADDR"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
