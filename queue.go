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

package adpilot

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/config"
	redis_db "github.com/adpilot-io/adpilot/internal/redis-db"
	"github.com/adpilot-io/adpilot/model"
)

var tracer = otel.Tracer("Queue ingestion")

// Queue handles the asynchronous ingestion pipelines: attribution events and
// platform metric syncs flow through Redis-backed asynq queues before they
// touch the datasource.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueAttributionEvent enqueues a CRM attribution event for ingestion. The
// task id is the event id, so asynq also dedupes redeliveries that arrive
// before the worker has drained the first copy.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - event *model.AttributionEvent: The event to enqueue.
//
// Returns:
// - error: An error if the event could not be enqueued.
func (q *Queue) EnqueueAttributionEvent(ctx context.Context, event *model.AttributionEvent) error {
	ctx, span := tracer.Start(ctx, "Adding attribution event to Redis queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := event.ToJSON()
	if err != nil {
		return err
	}

	queueName := q.shardQueue(cfg.Queue.AttributionQueue, event.AdID, cfg.Queue.NumberOfQueues)
	taskOptions := []asynq.Option{asynq.TaskID(event.EventID), asynq.Queue(queueName)}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued attribution event: %+v", event.EventID)
	return nil
}

// EnqueueMetricSync enqueues a platform metric snapshot for ingestion.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sync *model.MetricSync: The counter snapshot to enqueue.
//
// Returns:
// - error: An error if the snapshot could not be enqueued.
func (q *Queue) EnqueueMetricSync(ctx context.Context, sync *model.MetricSync) error {
	ctx, span := tracer.Start(ctx, "Adding metric sync to Redis queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := sync.ToJSON()
	if err != nil {
		return err
	}

	queueName := q.shardQueue(cfg.Queue.MetricQueue, sync.AdID, cfg.Queue.NumberOfQueues)
	taskOptions := []asynq.Option{asynq.Queue(queueName)}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued metric sync for ad: %s", sync.AdID)
	return nil
}

// queueIndexData enqueues a task to index data in a specified collection.
//
// Parameters:
// - id string: The ID of the data to index.
// - collection string: The name of the collection to index the data in.
// - data interface{}: The data to be indexed.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) queueIndexData(id string, collection string, data interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.TypeSense.Dns == "" {
		return nil
	}

	payload := map[string]interface{}{
		"collection": collection,
		"payload":    data,
	}

	IPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.IndexQueue)}
	task := asynq.NewTask(cfg.Queue.IndexQueue, IPayload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued index data: %+v", id)
	return nil
}

// shardQueue assigns an ad to one of the numbered queues by hashing its id.
// All events for the same ad land on the same queue and are processed
// serially, so counter merges for one ad never race each other.
//
// Parameters:
// - prefix string: The queue name prefix.
// - adID string: The ad whose events are being sharded.
// - numberOfQueues int: How many numbered queues exist.
//
// Returns:
// - string: The selected queue name.
func (q *Queue) shardQueue(prefix, adID string, numberOfQueues int) string {
	if numberOfQueues <= 0 {
		numberOfQueues = 1
	}
	queueIndex := hashAdID(adID) % numberOfQueues
	return fmt.Sprintf("%s_%d", prefix, queueIndex+1)
}

// hashAdID returns a consistent hash value for a string ad ID.
//
// Parameters:
// - adID string: The ad ID to hash.
//
// Returns:
// - int: The hash value of the ad ID.
func hashAdID(adID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(adID))
	return int(hasher.Sum32())
}
