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

	"github.com/typesense/typesense-go/typesense/api"

	"github.com/adpilot-io/adpilot/config"

	"github.com/adpilot-io/adpilot/api/middleware"

	"github.com/adpilot-io/adpilot"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	adpilot *adpilot.Adpilot
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/ads", a.RegisterAd)
	router.GET("/ads/:tenant_id/:ad_id", a.GetAd)
	router.GET("/ads/:tenant_id/:ad_id/score", a.GetAdScore)

	router.POST("/events/attribution", a.RecordAttribution)
	router.POST("/events/metrics", a.IngestMetricSync)

	router.GET("/changes/:id", a.GetChange)
	router.GET("/dead-changes", a.GetDeadChanges)
	router.POST("/dead-changes/:id/retry", a.RetryDeadChange)
	router.POST("/recover-claims", a.RecoverClaims)

	router.GET("/mocked-ad", a.generateMockAd)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)

	router.POST("/search/:collection", a.Search)
	return a.router
}

func NewAPI(a *adpilot.Adpilot) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("adpilot-api"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{adpilot: a, router: r}
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	err := c.BindJSON(&query)
	if err != nil {
		return
	}

	resp, err := a.adpilot.Search(collection, &query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
