package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"go-retrial/internal/config"
	"go-retrial/internal/observability"
	"go-retrial/internal/rabbitmq"
	"go-retrial/internal/service"
	"go-retrial/pkg/models"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	destination := flag.String("destination", "orders", "queue to publish to")
	invalid := flag.Bool("invalid", false, "publish an order the processor rejects, to exercise retrial")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := observability.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	hostname, _ := os.Hostname()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := rabbitmq.Dial(ctx, rabbitmq.ClientConfig{
		URL:            cfg.AMQP.URL,
		ConnectionName: cfg.ConnectionName(hostname),
		MaxRetries:     cfg.AMQP.ReconnectRetries,
		BaseBackoff:    cfg.AMQP.ReconnectBackoff,
		MaxBackoff:     cfg.AMQP.MaxReconnectWait,
		Logger:         logger,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ch, err := client.Channel()
	if err != nil {
		log.Fatal(err)
	}
	publisher, err := rabbitmq.NewPublisher(ch, rabbitmq.PublisherConfig{
		Timeout: cfg.Consumer.PublishTimeout,
		Logger:  logger,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer publisher.Close()

	order := service.Order{
		OrderID:  "ORD-" + uuid.NewString()[:8],
		Customer: "CUST-567890",
		Amount:   51890.00,
		Currency: "THB",
	}
	if *invalid {
		order.Amount = 0
	}

	body, err := json.Marshal(order)
	if err != nil {
		log.Fatal(err)
	}

	env := models.Envelope{
		MessageID:   uuid.NewString(),
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	}
	if err := publisher.Publish(ctx, models.DefaultExchange, *destination, env); err != nil {
		log.Fatal(err)
	}
	log.Printf("Published order %s to %s (message id %s)", order.OrderID, *destination, env.MessageID)
}
