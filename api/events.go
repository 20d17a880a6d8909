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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/adpilot-io/adpilot/api/model"
)

// RecordAttribution accepts one CRM attribution event and queues it for
// ingestion. Delivery is at-least-once; the pipeline dedupes on event_id.
func (a Api) RecordAttribution(c *gin.Context) {
	var newEvent model2.RecordAttribution
	if err := c.ShouldBindJSON(&newEvent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newEvent.ValidateRecordAttribution()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.adpilot.RecordAttribution(c.Request.Context(), newEvent.ToAttributionEvent()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "attribution event queued", "event_id": newEvent.EventID})
}

// IngestMetricSync accepts one platform counter snapshot and queues it.
func (a Api) IngestMetricSync(c *gin.Context) {
	var newSync model2.IngestMetricSync
	if err := c.ShouldBindJSON(&newSync); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newSync.ValidateIngestMetricSync()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.adpilot.IngestMetricSync(c.Request.Context(), newSync.ToMetricSync()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "metric sync queued", "ad_id": newSync.AdID})
}
