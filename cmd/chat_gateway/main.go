package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"marketplace_chat/internal/gateway"
	"marketplace_chat/pkg/config"
	"marketplace_chat/pkg/database"
	"marketplace_chat/pkg/logger"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatGateway, config.EnvConfig.ChatGatewayLogPath)
	cfg := config.LoadConfig[config.Gateway](config.EnvConfig.ChatGateway, config.EnvConfig.ChatGatewayYAMLPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := gateway.NewStore()
	hub := gateway.NewHub()

	// Redis fan-out is optional so a single instance runs standalone.
	var pubsub *gateway.PubSub
	if cfg.Redis.Addr != "" {
		redisClient, err := database.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
		}
		defer redisClient.Close()

		pubsub = gateway.NewPubSub(redisClient)
		pubsub.Run(ctx, hub)
	}

	// Kafka archiving is optional the same way.
	var archiver *gateway.Archiver
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := database.NewKafkaWriterWithRetry(cfg.Kafka)
		if err != nil {
			logger.Log.Fatal(fmt.Sprintf("connect kafka err : %v", err))
		}
		archiver = gateway.NewArchiver(writer)
		defer archiver.Close()
	}

	handler := gateway.NewWSHandler(store, hub, pubsub, archiver)

	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatGatewayLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	gateway.RegisterRoutes(ctx, r, store, handler)

	port := ":" + cfg.Port
	if cfg.Port == "" {
		port = ":" + config.EnvConfig.ChatGatewayPort
	}
	log.Printf("Chat Gateway listening on %s", port)
	if err := r.Listen(port); err != nil {
		log.Fatalf("Failed to start Fiber: %v", err)
	}
}
