/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/adpilot-io/adpilot"
	"github.com/adpilot-io/adpilot/config"
	redis_db "github.com/adpilot-io/adpilot/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues builds the asynq queue priority map. Webhook delivery gets
// the highest priority; the sharded attribution queues outrank the sharded
// metric queues so conversion evidence lands before the snapshots it explains.
func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.IndexQueue] = 1

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queues[fmt.Sprintf("%s_%d", cfg.Queue.AttributionQueue, i)] = 2
		queues[fmt.Sprintf("%s_%d", cfg.Queue.MetricQueue, i)] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

// initializeTaskHandlers registers the asynq handlers. Attribution and metric
// tasks are sharded by ad ID across numbered queues, so every numbered queue
// gets the same handler.
func initializeTaskHandlers(b *adpilotInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// Register handlers for the sharded ingestion queues
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		mux.HandleFunc(fmt.Sprintf("%s_%d", cfg.Queue.AttributionQueue, i), b.adpilot.ProcessAttributionTask)
		mux.HandleFunc(fmt.Sprintf("%s_%d", cfg.Queue.MetricQueue, i), b.adpilot.ProcessMetricSyncTask)
	}

	// Register handlers for other task types
	mux.HandleFunc(cfg.Queue.IndexQueue, b.adpilot.ProcessIndexTask)
	mux.HandleFunc(cfg.Queue.WebhookQueue, adpilot.ProcessWebhook)
}

// workerCommands defines the "workers" command to start worker processes.
// The workers run the change executor pool, the optimization cycle, the
// stale-claim watchdog, and the asynq consumers for ingestion and webhooks.
func workerCommands(b *adpilotInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start adpilot workers", // Short description of the command
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			// Load configuration
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			// Initialize observability (tracing and PostHog)
			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			// Start the safe executor worker pool
			executor := adpilot.NewExecutor(b.adpilot, conf.Executor)
			executor.Start(ctx)

			// Start the optimization cycle scheduler
			optimizer := adpilot.NewOptimizer(b.adpilot, conf)
			optimizer.Start(ctx)

			// Start the stale-claim recovery watchdog
			recovery := adpilot.NewClaimRecoveryProcessor(b.adpilot)
			recovery.Start(ctx)
			defer recovery.Stop()

			// Initialize queues
			queues := initializeQueues()

			// Initialize worker server
			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			// Initialize task handlers
			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring", //  Optional: if you want to serve asynqmon under a sub-path.
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			// Start asynqmon HTTP server in a new goroutine
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("Error starting asynqmon server: %v", err)
				}
			}()

			// Run the asynq worker server
			if err := srv.Run(mux); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
