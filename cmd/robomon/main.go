package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/robotalks/robolink/pkg/l1/mqtt"
	"github.com/robotalks/robolink/pkg/l1/telemetry"
)

var (
	mqttURL = "mqtt://localhost:1883/robo/"
	robot   = "+"
)

func init() {
	if val := os.Getenv("ROBO_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&robot, "id", robot, "Robot ID to monitor, + for all.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}

	q.Sub(robot+"/#", mqtt.Handler(func(topic string, payload []byte) {
		switch {
		case strings.HasSuffix(topic, "/meta"), strings.HasSuffix(topic, "/reply"), strings.HasSuffix(topic, "/cmd"):
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		frame, format, err := telemetry.DecodeAny(payload)
		if err != nil {
			log.Printf("%s: bad frame: %v", topic, err)
			return
		}
		log.Printf("%s: [%s/%s] %s", topic, telemetry.Kind(frame), format, telemetry.JSON(frame))
	}))
	if err := q.Connect(context.Background(), mqtt.DefaultConnectRetry); err != nil {
		log.Fatalln(err)
	}
	<-(chan struct{})(nil)
}
