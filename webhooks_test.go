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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/model"
)

func webhookTestConfig(redisAddr, webhookURL string) *config.Configuration {
	conf := &config.Configuration{
		Redis: config.RedisConfig{Dns: redisAddr},
	}
	conf.Notification.Webhook.Url = webhookURL
	return conf
}

func TestSendWebhook(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	config.MockConfig(webhookTestConfig(mr.Addr(), "https://localhost:5001/webhook"))

	testData := NewWebhook{
		Event: EventChangeDead,
		Payload: &model.PendingChange{
			ID:         "chg_dead_1",
			TenantID:   "tenant_1",
			AdEntityID: "ad_1",
			ChangeType: model.ChangePause,
			Status:     model.ChangeStatusDead,
			CreatedAt:  time.Now(),
		},
	}

	err = SendWebhook(testData)
	assert.NoError(t, err)

	// Verify that the task was enqueued
	tasks := mr.Keys()
	t.Log(tasks)
	assert.NotEmpty(t, tasks)
}

func TestSendWebhookWithoutURLIsNoop(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	config.MockConfig(webhookTestConfig(mr.Addr(), ""))

	err = SendWebhook(NewWebhook{Event: EventAdKilled, Payload: map[string]string{"ad_id": "ad_1"}})
	assert.NoError(t, err)
	assert.Empty(t, mr.Keys(), "nothing is queued when no webhook endpoint is configured")
}
