package main

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/leadloop/outreach-backend/internal/config"
	"github.com/leadloop/outreach-backend/internal/crmsync"
)

const maxRetries = 3

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on OS environment variables")
	}

	cfg := config.Parse()
	worker := crmsync.NewWorker(cfg.SyncWebhookURL)

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to RabbitMQ")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Fatal("failed to open a channel")
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		cfg.SyncQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.WithError(err).Fatal("failed to declare queue")
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck off: a crashed delivery must be redelivered
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to register consumer")
	}

	forever := make(chan bool)

	go func() {
		for d := range msgs {
			if err := worker.Process(d.Body); err != nil {
				retryCount := 0
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retryCount = int(v)
				}
				if retryCount < maxRetries {
					log.WithError(err).WithField("retry", retryCount).
						Warn("sync delivery failed, requeueing")
					d.Nack(false, true)
					continue
				}
				log.WithError(err).Error("sync delivery failed permanently, dropping")
			}
			d.Ack(false)
		}
	}()

	log.WithField("queue", cfg.SyncQueueName).Info("sync worker running, waiting for messages")
	<-forever
}
